package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/projecthorus/horus-utils/internal/utils"
)

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	radio  Liveness
	maxAge time.Duration
	now    func() time.Time
}

func NewHealthchecker(radio Liveness, maxAge time.Duration, now func() time.Time) healthchecker {
	return &healthcheckerImpl{radio: radio, maxAge: maxAge, now: now}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	last := h.radio.LastPoll()
	if last.IsZero() {
		utils.WriteError(w, http.StatusServiceUnavailable, "radio loop not started")
		return
	}
	age := h.now().Sub(last)
	if age > h.maxAge {
		slog.Warn("radio loop stalled", "last_poll", last, "age", age)
		utils.WriteError(w, http.StatusServiceUnavailable, "radio loop stalled")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"last_poll": last.UTC(),
	})
}

func registerHealthcheck(mux *http.ServeMux, radio Liveness, maxAge time.Duration, now func() time.Time) {
	healthchecker := NewHealthchecker(radio, maxAge, now)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
