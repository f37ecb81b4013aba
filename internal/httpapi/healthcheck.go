package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"lacrosse-alerts/internal/poller"
	"lacrosse-alerts/internal/utils"
)

// ConnectionStatus reports the broker link. A nil value means MQTT is
// disabled.
type ConnectionStatus interface {
	IsConnected() bool
}

// PollStatus reports recent polling.
type PollStatus interface {
	Status() poller.Status
}

type healthResponse struct {
	Status        string        `json:"status"`
	MQTTEnabled   bool          `json:"mqtt_enabled"`
	MQTTConnected bool          `json:"mqtt_connected"`
	LastPollValid bool          `json:"last_poll_valid"`
	Poller        poller.Status `json:"poller"`
}

type healthchecker struct {
	db     *sql.DB
	mqtt   ConnectionStatus
	poller PollStatus
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var ok int
	if err := h.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	resp := healthResponse{Status: "ok"}
	if h.mqtt != nil {
		resp.MQTTEnabled = true
		resp.MQTTConnected = h.mqtt.IsConnected()
	}
	if h.poller != nil {
		resp.Poller = h.poller.Status()
		resp.LastPollValid = resp.Poller.LastValid
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}
