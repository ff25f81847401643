package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"autotrader/internal/config"
	"autotrader/internal/control"
	"autotrader/internal/store"
)

// defaultOwner backs single-tenant deployments that never send an
// owner header.
const defaultOwner = "default"

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	control *control.Service
	cfg     config.DashboardConfig
	hub     *Hub
	logger  *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(ctl *control.Service, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		control: ctl,
		cfg:     cfg,
		hub:     hub,
		logger:  logger.With("component", "api-handlers"),
	}
}

func owner(r *http.Request) string {
	if o := r.Header.Get("X-Owner"); o != "" {
		return o
	}
	if o := r.URL.Query().Get("owner"); o != "" {
		return o
	}
	return defaultOwner
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

// writeError maps service errors onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, control.ErrForbidden):
		status = http.StatusForbidden
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDashboard returns the aggregated owner view.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.control.GetDashboard(r.Context(), owner(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// HandleListStrategies returns the owner's ACTIVE deployments.
func (h *Handlers) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	active, err := h.control.ListActiveStrategies(r.Context(), owner(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, active)
}

// HandleGetOptimization returns the job record for polling.
func (h *Handlers) HandleGetOptimization(w http.ResponseWriter, r *http.Request) {
	job, err := h.control.GetOptimizationJob(r.Context(), owner(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced in HandleWebSocket via isOriginAllowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// isOriginAllowed gates WebSocket upgrades. With no allowlist, only
// same-host and localhost origins connect; an allowlist replaces that
// default entirely.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if strings.EqualFold(origin, allowed) {
				return true
			}
		}
		return false
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	if strings.EqualFold(trimmed, reqHost) {
		return true
	}
	host := trimmed
	if i := strings.Index(trimmed, ":"); i >= 0 {
		host = trimmed[:i]
	}
	return host == "localhost" || host == "127.0.0.1"
}

// HandleWebSocket upgrades the connection, registers the client, and
// pushes an initial dashboard snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(h.hub, conn)

	d, err := h.control.GetDashboard(r.Context(), owner(r))
	if err != nil {
		h.logger.Warn("initial snapshot failed", "error", err)
		return
	}
	data, err := json.Marshal(Event{
		Type:      EventSnapshot,
		Timestamp: d.GeneratedAt,
		Owner:     d.Owner,
		Data:      d,
	})
	if err != nil {
		h.logger.Error("marshal initial snapshot", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("initial snapshot dropped, client queue full")
	}
}
