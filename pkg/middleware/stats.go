package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/polisai/polis-shape/pkg/domain"
	"github.com/polisai/polis-shape/pkg/optimizer"
)

// StatsHandler serves the compression counters: GET returns a snapshot and
// DELETE resets them.
type StatsHandler struct {
	stats  *optimizer.Stats
	logger *slog.Logger
}

// NewStatsHandler creates the admin handler for stats.
func NewStatsHandler(stats *optimizer.Stats, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{stats: stats, logger: logger}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
	case http.MethodDelete:
		h.stats.Reset()
		h.logger.Info("middleware: compression stats reset", "request_id", r.Header.Get(RequestIDHeader))
		h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodDelete}, ", "))
		h.writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{
			Code:      "METHOD_NOT_ALLOWED",
			Message:   domain.ErrMethodNotAllowed.Error(),
			RequestID: r.Header.Get(RequestIDHeader),
		})
	}
}

func (h *StatsHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := gojson.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("middleware: writing admin response failed", "error", err)
	}
}
