package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/projecthorus/horus-utils/internal/db"
	"github.com/projecthorus/horus-utils/internal/store"
	"github.com/projecthorus/horus-utils/internal/utils"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

type packetAPI struct {
	repo  db.PacketRepository
	state StateReader
}

func registerPackets(mux *http.ServeMux, repo db.PacketRepository, state StateReader) {
	api := &packetAPI{repo: repo, state: state}
	mux.HandleFunc("GET /packets", api.handleRecent)
	mux.HandleFunc("GET /payloads/{id}/telemetry", api.handleTelemetry)
	mux.HandleFunc("GET /status", api.handleStatus)
}

func (a *packetAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "packet log disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := a.repo.RecentRx(r.Context(), limit)
	if err != nil {
		slog.Error("failed to read packet log", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read packet log")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"limit": limit,
		"items": recs,
	})
}

func (a *packetAPI) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "packet log disabled")
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id > 255 {
		utils.WriteError(w, http.StatusBadRequest, "invalid payload id")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.repo.LatestTelemetry(r.Context(), id, limit)
	if err != nil {
		slog.Error("failed to read telemetry", "payload_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read telemetry")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"payload_id": id,
		"limit":      limit,
		"items":      items,
	})
}

func (a *packetAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.state == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "state store disabled")
		return
	}
	raw, err := a.state.LatestStatus(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		utils.WriteError(w, http.StatusNotFound, "no status yet")
		return
	}
	if err != nil {
		slog.Error("failed to read status", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}
