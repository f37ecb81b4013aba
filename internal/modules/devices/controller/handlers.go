package controller

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"lacrosse-alerts/internal/modules/devices/repository"
	"lacrosse-alerts/internal/modules/devices/views"
	"lacrosse-alerts/internal/utils"
)

func (c *devicesControllerImpl) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := c.repository.GetDevices(r.Context())
	if err != nil {
		slog.Error("devices: list failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load devices")
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

func (c *devicesControllerImpl) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	device, err := c.repository.GetDevice(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		utils.WriteError(w, http.StatusNotFound, "unknown device "+id)
		return
	}
	if err != nil {
		slog.Error("devices: get failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	utils.WriteJSON(w, http.StatusOK, device)
}

func (c *devicesControllerImpl) handleCurrent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != c.live.DeviceID() {
		utils.WriteError(w, http.StatusNotFound, "device "+id+" is not polled by this instance")
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.live.Current())
}

func (c *devicesControllerImpl) handlePolls(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit, err := parsePollsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := c.repository.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "unknown device "+id)
			return
		}
		slog.Error("polls: get device failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load device")
		return
	}

	polls, err := c.repository.GetPolls(r.Context(), id, limit)
	if err != nil {
		slog.Error("polls: list failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load polls")
		return
	}
	utils.WriteJSON(w, http.StatusOK, polls)
}

func (c *devicesControllerImpl) handleDevicePage(w http.ResponseWriter, r *http.Request) {
	c.renderHTML(w, r, "device page", views.RenderDevice)
}

func (c *devicesControllerImpl) handleReadingsPartial(w http.ResponseWriter, r *http.Request) {
	c.renderHTML(w, r, "readings partial", views.RenderReadingsPartial)
}

func (c *devicesControllerImpl) renderHTML(w http.ResponseWriter, r *http.Request, what string, render func(io.Writer, views.DeviceData) error) {
	id := c.live.DeviceID()
	name := id
	device, err := c.repository.GetDevice(r.Context(), id)
	switch {
	case err == nil:
		name = device.Name
	case !errors.Is(err, repository.ErrNotFound):
		slog.Warn("device lookup failed, using id as name", "device_id", id, "error", err)
	}

	data := views.NewDeviceData(name, c.live.Current())
	if err := utils.WriteHTML(w, http.StatusOK, func(out io.Writer) error { return render(out, data) }); err != nil {
		slog.Error(what+" render failed", "error", err)
	}
}
