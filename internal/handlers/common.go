package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/greenshelf/strainscan/internal/dedupe"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/session"
	"github.com/greenshelf/strainscan/internal/storage"
)

// Identifier runs the enrichment pipeline
type Identifier interface {
	Enrich(ctx context.Context, req enrichment.Request) (*enrichment.Result, error)
	Stream(ctx context.Context, req enrichment.Request) <-chan enrichment.StreamEvent
}

// Sessions controls continuous capture on the server's device
type Sessions interface {
	Start(ctx context.Context, operatorID string) (*models.ScanSession, error)
	End() (*models.ScanSession, error)
	Trigger() error
	Session() *models.ScanSession
	Events() <-chan session.Event
}

// RecordLister reads an operator's persisted catalog
type RecordLister interface {
	List(ctx context.Context, operatorID string) ([]*models.ProductRecord, error)
}

type Options struct {
	Identifier Identifier
	// Sessions is nil when the server runs without a capture device
	Sessions Sessions
	Catalog  RecordLister
	Weights  dedupe.Weights
	Logger   *slog.Logger
}

type Handler struct {
	sessionStore *storage.SessionStore
	identifier   Identifier
	sessions     Sessions
	catalog      RecordLister
	weights      dedupe.Weights
	hub          *Hub
	logger       *slog.Logger
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	weights := opts.Weights
	if weights == (dedupe.Weights{}) {
		weights = dedupe.DefaultWeights()
	}
	return &Handler{
		sessionStore: storage.New(),
		identifier:   opts.Identifier,
		sessions:     opts.Sessions,
		catalog:      opts.Catalog,
		weights:      weights,
		hub:          NewHub(logger),
		logger:       logger,
	}
}

// Run drives the websocket hub and relays session events until ctx is done
func (h *Handler) Run(ctx context.Context) {
	go h.hub.Run(ctx)
	if h.sessions == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.sessions.Events():
			h.relay(ev)
		}
	}
}

// relay keeps the session snapshot current and fans the event out to subscribers
func (h *Handler) relay(ev session.Event) {
	if ev.Session != nil {
		h.sessionStore.Set(ev.Session)
	} else if snap := h.sessions.Session(); snap != nil && snap.ID == ev.SessionID {
		h.sessionStore.Set(snap)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Unable to encode session event", "type", ev.Type, "err", err)
		return
	}
	h.hub.Publish(ev.SessionID, payload)
}

// Routes returns the API mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/identify", h.HandleIdentify)
	mux.HandleFunc("GET /api/identify/stream", h.HandleIdentifyStream)
	mux.HandleFunc("GET /api/sessions", h.HandleSessions)
	mux.HandleFunc("POST /api/sessions", h.HandleStartSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleSessionDetail)
	mux.HandleFunc("POST /api/sessions/{id}/end", h.HandleEndSession)
	mux.HandleFunc("POST /api/sessions/{id}/trigger", h.HandleTrigger)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.HandleSessionEvents)
	mux.HandleFunc("GET /api/duplicates", h.HandleDuplicates)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(message)
	} else {
		h.logger.Debug(message, "status", code)
	}
	http.Error(w, message, code)
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*models.ScanSession, bool) {
	if h.sessions != nil {
		if snap := h.sessions.Session(); snap != nil && snap.ID == sessionID {
			h.sessionStore.Set(snap)
			return snap, true
		}
	}
	sess, exists := h.sessionStore.Get(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}
