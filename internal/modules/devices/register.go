package devices

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"lacrosse-alerts/internal/modules/devices/controller"
	"lacrosse-alerts/internal/modules/devices/repository"
	"lacrosse-alerts/internal/modules/devices/service"
	"lacrosse-alerts/internal/modules/devices/views"
)

// Feature exposes the pieces the app wires into polling.
type Feature struct {
	Repository repository.DevicesRepository
	Recorder   *service.Recorder
	Live       *service.Live
}

type Options struct {
	DeviceName string
	Retention  int
	Logger     *slog.Logger
}

func RegisterFeature(mux *http.ServeMux, db *sql.DB, source service.SnapshotSource, opts Options) (*Feature, error) {
	if err := views.LoadTemplates(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	devicesRepository := repository.NewRepository(db)
	live := service.NewLive(source)
	devicesController := controller.NewDevicesController(devicesRepository, live)
	devicesController.RegisterRoutes(mux)

	return &Feature{
		Repository: devicesRepository,
		Recorder:   service.NewRecorder(devicesRepository, opts.DeviceName, opts.Retention, opts.Logger),
		Live:       live,
	}, nil
}
