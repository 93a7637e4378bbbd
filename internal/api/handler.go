// Package api serves the read side of a review session: its metadata and
// the observed actions recorded for it.
//
//	GET /cme/sessions/{id}          session, actions and per-verdict counts
//	GET /cme/sessions/{id}/actions  actions only
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/store"
)

// SessionReader is the part of the store the API reads.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	ListActions(ctx context.Context, sessionID string) ([]*store.ObservedAction, error)
}

// Summary counts verdicts by motion_present.
type Summary struct {
	Total          int            `json:"total"`
	ByMotion       map[string]int `json:"by_motion_present"`
	Degraded       int            `json:"degraded"`
	MeanConfidence float64        `json:"mean_confidence"`
}

// SessionResponse is the body of GET /cme/sessions/{id}.
type SessionResponse struct {
	Session *store.Session          `json:"session"`
	Actions []*store.ObservedAction `json:"observed_actions"`
	Summary Summary                 `json:"summary"`
}

// Handler routes the session read API.
type Handler struct {
	store SessionReader
	mux   *http.ServeMux
}

// NewHandler creates the API handler.
func NewHandler(s SessionReader) *Handler {
	h := &Handler{store: s, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /cme/sessions/{id}", h.handleSession)
	h.mux.HandleFunc("GET /cme/sessions/{id}/actions", h.handleActions)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load session", err.Error())
		return
	}
	if sess == nil {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	actions, ok := h.listActions(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{
		Session: sess,
		Actions: actions,
		Summary: Summarize(actions),
	})
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, ok := h.listActions(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"observed_actions": actions})
}

// listActions loads actions ordered by creation time then ID.
func (h *Handler) listActions(w http.ResponseWriter, r *http.Request, id string) ([]*store.ObservedAction, bool) {
	actions, err := h.store.ListActions(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load observed actions", err.Error())
		return nil, false
	}
	if actions == nil {
		actions = []*store.ObservedAction{}
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt != actions[j].CreatedAt {
			return actions[i].CreatedAt < actions[j].CreatedAt
		}
		return actions[i].ObservedActionID < actions[j].ObservedActionID
	})
	return actions, true
}

// Summarize counts verdicts per motion_present value.
func Summarize(actions []*store.ObservedAction) Summary {
	s := Summary{ByMotion: map[string]int{}}
	var sum float64
	for _, a := range actions {
		s.Total++
		s.ByMotion[a.MotionPresent]++
		if a.AnalysisDetails.Error != "" {
			s.Degraded++
		}
		sum += a.ConfidenceScore
	}
	if s.Total > 0 {
		s.MeanConfidence = sum / float64(s.Total)
	}
	return s
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error. internalDetails are logged, never returned.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}
