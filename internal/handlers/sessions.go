package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/greenshelf/strainscan/internal/session"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if snap := h.sessions.Session(); snap != nil {
			h.sessionStore.Set(snap)
		}
	}
	h.writeJSON(w, h.sessionStore.List())
}

func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		h.writeError(w, "No capture device configured", http.StatusServiceUnavailable)
		return
	}
	var request struct {
		OperatorID string `json:"operator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Start(r.Context(), request.OperatorID)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, session.ErrDevice):
		h.writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.writeError(w, "Failed to start session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.sessionStore.Set(sess)
	h.writeJSONStatus(w, http.StatusCreated, sess)
}

func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r.PathValue("id"))
	if !ok {
		return
	}
	h.writeJSON(w, sess)
}

func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.activeSession(w, r.PathValue("id")); !ok {
		return
	}
	sess, err := h.sessions.End()
	if errors.Is(err, session.ErrNotActive) {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to end session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.sessionStore.Set(sess)
	h.writeJSON(w, sess)
}

func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.activeSession(w, r.PathValue("id")); !ok {
		return
	}
	if err := h.sessions.Trigger(); err != nil {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleSessionEvents streams a session's events over a websocket
func (h *Handler) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.getSessionOrError(w, id); !ok {
		return
	}
	if err := h.hub.Serve(w, r, id); err != nil {
		h.logger.Debug("Websocket upgrade failed", "session_id", id, "err", err)
	}
}

// activeSession resolves id to the manager's current session
func (h *Handler) activeSession(w http.ResponseWriter, id string) (string, bool) {
	if h.sessions == nil {
		h.writeError(w, "No capture device configured", http.StatusServiceUnavailable)
		return "", false
	}
	sess, ok := h.getSessionOrError(w, id)
	if !ok {
		return "", false
	}
	current := h.sessions.Session()
	if current == nil || current.ID != sess.ID {
		h.writeError(w, "Session is not active", http.StatusConflict)
		return "", false
	}
	return sess.ID, true
}
