package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"lecrec/internal/capture"
	"lecrec/internal/history"
	"lecrec/internal/metrics"
)

// SessionLister exposes the active recordings.
type SessionLister interface {
	Sessions() []capture.Info
}

type API struct {
	sessions SessionLister
	history  *history.Store
}

// New builds the status router. store and m may be nil; their routes then
// answer 404.
func New(sessions SessionLister, store *history.Store, m *metrics.Metrics) http.Handler {
	api := &API{
		sessions: sessions,
		history:  store,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", api.handleHealth)
	mux.HandleFunc("GET /sessions", api.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", api.handleSession)
	if store != nil {
		mux.HandleFunc("GET /recordings", api.handleRecordings)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Sessions())
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, info := range a.sessions.Sessions() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	http.Error(w, fmt.Sprintf("Session %s not found", id), http.StatusNotFound)
}

func (a *API) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []history.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
