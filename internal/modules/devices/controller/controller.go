package controller

import (
	"net/http"

	"lacrosse-alerts/internal/modules/devices/repository"
	"lacrosse-alerts/internal/modules/devices/types"
)

// LiveView is the polled device as it is right now.
type LiveView interface {
	DeviceID() string
	Current() types.Current
}

type DevicesController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type devicesControllerImpl struct {
	repository repository.DevicesRepository
	live       LiveView
}

func NewDevicesController(repository repository.DevicesRepository, live LiveView) DevicesController {
	return &devicesControllerImpl{repository: repository, live: live}
}

func (c *devicesControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleDevicePage)
	mux.HandleFunc("GET /partials/readings", c.handleReadingsPartial)

	mux.HandleFunc("GET /api/devices", c.handleDevices)
	mux.HandleFunc("GET /api/devices/{id}", c.handleDevice)
	mux.HandleFunc("GET /api/devices/{id}/current", c.handleCurrent)
	mux.HandleFunc("GET /api/devices/{id}/polls", c.handlePolls)
}
