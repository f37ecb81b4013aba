package httpapi

import (
	"database/sql"
	"net/http"
)

type Deps struct {
	DB      *sql.DB
	MQTT    ConnectionStatus
	Poller  PollStatus
	Metrics http.Handler
}

// NewMux registers the operational endpoints. Feature modules add their own
// routes to the returned mux.
func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	h := &healthchecker{db: deps.DB, mqtt: deps.MQTT, poller: deps.Poller}
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}
