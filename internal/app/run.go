package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lacrosse-alerts/internal/config"
	"lacrosse-alerts/internal/db"
	"lacrosse-alerts/internal/httpapi"
	"lacrosse-alerts/internal/lacrosse"
	"lacrosse-alerts/internal/metrics"
	"lacrosse-alerts/internal/migrate"
	"lacrosse-alerts/internal/modules/devices"
	"lacrosse-alerts/internal/mqtt"
	"lacrosse-alerts/internal/poller"
	"lacrosse-alerts/internal/sensors"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"lacrosseURL", cfg.LaCrosseURL,
		"deviceID", cfg.LaCrosseDeviceID,
		"pollInterval", cfg.PollInterval,
		"pollLogRetention", cfg.PollLogRetention,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteLogSQL", cfg.SQLiteLogSQL,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if _, err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}
	logger.Info("database ready")

	client := lacrosse.NewClient(cfg.LaCrosseURL, cfg.LaCrosseDeviceID, logger)
	promMetrics := metrics.New()

	p := poller.New(client, cfg.PollInterval, logger)
	p.AddSink("metrics", promMetrics)

	// The entity set depends on the device type, so it is fixed by the first
	// poll and kept for the life of the process.
	initial := p.PollOnce(ctx)
	entities := sensors.Build(initial.Snapshot, cfg.LaCrosseDeviceName)
	logger.Info("entities built", "device_id", cfg.LaCrosseDeviceID, "count", len(entities), "valid", initial.Snapshot.IsValid())

	var (
		publisher  *mqtt.Publisher
		mqttStatus httpapi.ConnectionStatus
	)
	if cfg.MQTTEnabled {
		publisher = mqtt.NewPublisher(cfg, entities, client.Snapshot, logger)
		mqttStatus = publisher

		// Short timeout so a missing broker does not block startup.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = publisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	mux := httpapi.NewMux(httpapi.Deps{
		DB:      dbConn,
		MQTT:    mqttStatus,
		Poller:  p,
		Metrics: promMetrics.Handler(),
	})
	feature, err := devices.RegisterFeature(mux, dbConn, client, devices.Options{
		DeviceName: cfg.LaCrosseDeviceName,
		Retention:  cfg.PollLogRetention,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	feature.Live.SetEntities(entities)

	if err := feature.Recorder.Publish(ctx, initial); err != nil {
		logger.Warn("failed to record initial poll", "error", err)
	}
	p.AddSink("devices", feature.Recorder)
	if publisher != nil {
		p.AddSink("mqtt", publisher)
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		_ = p.Run(pollCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	stopPolling()
	<-pollDone

	if publisher != nil {
		logger.Info("mqtt disconnecting")
		publisher.Disconnect()
	}

	if serveErr != nil {
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
