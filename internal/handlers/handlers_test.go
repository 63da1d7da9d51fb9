package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/logging"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/session"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubIdentifier struct {
	mu     sync.Mutex
	got    []enrichment.Request
	result *enrichment.Result
	err    error
}

func (s *stubIdentifier) Enrich(_ context.Context, req enrichment.Request) (*enrichment.Result, error) {
	s.mu.Lock()
	s.got = append(s.got, req)
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubIdentifier) Stream(ctx context.Context, req enrichment.Request) <-chan enrichment.StreamEvent {
	out := make(chan enrichment.StreamEvent, 3)
	res, err := s.Enrich(ctx, req)
	out <- enrichment.StreamEvent{Type: enrichment.StreamProgress, Phase: enrichment.PhaseAnalysis}
	if err != nil {
		out <- enrichment.StreamEvent{Type: enrichment.StreamError, Message: err.Error()}
	} else {
		out <- enrichment.StreamEvent{Type: enrichment.StreamComplete, Record: res.Record, Duplicate: res.Duplicate}
	}
	close(out)
	return out
}

func (s *stubIdentifier) requests() []enrichment.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enrichment.Request(nil), s.got...)
}

type stubSessions struct {
	mu       sync.Mutex
	current  *models.ScanSession
	triggers int
	startErr error
	events   chan session.Event
}

func newStubSessions() *stubSessions {
	return &stubSessions{events: make(chan session.Event, 16)}
}

func (s *stubSessions) Start(_ context.Context, operatorID string) (*models.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.current != nil && s.current.State == models.SessionActive {
		return nil, session.ErrSessionActive
	}
	s.current = &models.ScanSession{
		ID:         "sess-1",
		OperatorID: operatorID,
		StartedAt:  time.Now(),
		State:      models.SessionActive,
		Scans:      []*models.ProductRecord{},
	}
	return s.current.Clone(), nil
}

func (s *stubSessions) End() (*models.ScanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.State != models.SessionActive {
		return nil, session.ErrNotActive
	}
	now := time.Now()
	s.current.State = models.SessionEnded
	s.current.EndedAt = &now
	return s.current.Clone(), nil
}

func (s *stubSessions) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.State != models.SessionActive {
		return session.ErrNotActive
	}
	s.triggers++
	return nil
}

func (s *stubSessions) Session() *models.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *stubSessions) Events() <-chan session.Event {
	return s.events
}

type stubCatalog struct {
	records []*models.ProductRecord
	err     error
	asked   string
}

func (c *stubCatalog) List(_ context.Context, operatorID string) ([]*models.ProductRecord, error) {
	c.asked = operatorID
	return c.records, c.err
}

func newTestHandler(id Identifier, sessions Sessions, catalog RecordLister) *Handler {
	opts := Options{Identifier: id, Catalog: catalog, Logger: logging.NewNop()}
	if sessions != nil {
		opts.Sessions = sessions
	}
	return New(opts)
}

func gelato() *models.ProductRecord {
	return &models.ProductRecord{ID: "r1", Name: "Gelato", Type: models.StrainHybrid, THC: 21}
}

func TestHandleIdentifyJSON(t *testing.T) {
	id := &stubIdentifier{result: &enrichment.Result{Record: gelato()}}
	h := newTestHandler(id, nil, nil)

	body := `{"text":"gelato","source":"voice","operator_id":"op-1","images":["data:image/png;base64,` +
		"iVBORw0KGgo=" + `"]}`
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/identify", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got enrichment.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Record.Name != "Gelato" || got.Duplicate {
		t.Fatalf("result = %+v", got)
	}

	reqs := id.requests()
	if len(reqs) != 1 {
		t.Fatalf("Enrich called %d times", len(reqs))
	}
	r := reqs[0]
	if r.Text != "gelato" || r.Source != models.SourceVoice || r.OperatorID != "op-1" {
		t.Errorf("request = %+v", r)
	}
	if len(r.Images) != 1 || r.Images[0].MIMEType != "image/png" {
		t.Errorf("images = %+v", r.Images)
	}
}

func TestHandleIdentifyMultipart(t *testing.T) {
	id := &stubIdentifier{result: &enrichment.Result{Record: gelato(), Duplicate: true}}
	h := newTestHandler(id, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.png", "b.png"} {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(pngHeader)
	}
	mw.WriteField("operator_id", "op-2")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/identify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	r := id.requests()[0]
	if len(r.Images) != 2 || r.Images[1].MIMEType != "image/png" || r.OperatorID != "op-2" {
		t.Errorf("request = %+v", r)
	}
}

func TestHandleIdentifyErrors(t *testing.T) {
	fallback := &models.ProductRecord{Name: "Unknown Strain"}
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{"empty request", `{}`, enrichment.ErrEmptyRequest, http.StatusBadRequest, "no images and no text"},
		{"pipeline failure", `{"images":["iVBORw0KGgo="]}`, &enrichment.PipelineError{Err: errors.New("model down"), Fallback: fallback}, http.StatusBadGateway, "Unknown Strain"},
		{"unexpected", `{"text":"x"}`, errors.New("boom"), http.StatusInternalServerError, "boom"},
		{"bad json", `{`, nil, http.StatusBadRequest, "Invalid JSON"},
		{"bad source", `{"text":"x","source":"fax"}`, nil, http.StatusBadRequest, "Invalid source"},
		{"bad base64", `{"images":["***"]}`, nil, http.StatusBadRequest, "invalid base64"},
		{"not an image", `{"images":["aGVsbG8gd29ybGQ="]}`, nil, http.StatusBadRequest, "unsupported content type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubIdentifier{err: tt.err}, nil, nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/identify", strings.NewReader(tt.body)))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	sessions := newStubSessions()
	h := newTestHandler(&stubIdentifier{}, sessions, nil)
	routes := h.Routes()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/api/sessions", `{"operator_id":"op-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, "/api/sessions", ``); rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rec.Code)
	}

	rec = do(http.MethodGet, "/api/sessions/sess-1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"operator_id":"op-1"`) {
		t.Fatalf("detail = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodGet, "/api/sessions/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", rec.Code)
	}

	if rec := do(http.MethodPost, "/api/sessions/sess-1/trigger", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d", rec.Code)
	}
	if sessions.triggers != 1 {
		t.Fatalf("triggers = %d", sessions.triggers)
	}

	rec = do(http.MethodPost, "/api/sessions/sess-1/end", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"ended"`) {
		t.Fatalf("end = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, "/api/sessions/sess-1/trigger", ""); rec.Code != http.StatusConflict {
		t.Fatalf("trigger after end status = %d, want 409", rec.Code)
	}

	rec = do(http.MethodGet, "/api/sessions", "")
	var list []*models.ScanSession
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].State != models.SessionEnded {
		t.Fatalf("list = %+v", list)
	}
}

func TestSessionRoutesWithoutDevice(t *testing.T) {
	h := newTestHandler(&stubIdentifier{}, nil, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStartSessionDeviceError(t *testing.T) {
	sessions := newStubSessions()
	sessions.startErr = session.ErrDevice
	h := newTestHandler(&stubIdentifier{}, sessions, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDuplicates(t *testing.T) {
	catalog := &stubCatalog{records: []*models.ProductRecord{
		{ID: "a", Name: "Blue Dream", Type: models.StrainHybrid, THC: 20},
		{ID: "b", Name: "Blue Dream", Type: models.StrainHybrid, THC: 21},
		{ID: "c", Name: "Sour Diesel", Type: models.StrainSativa, THC: 24},
	}}
	h := newTestHandler(&stubIdentifier{}, nil, catalog)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/duplicates?operator=op-9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got duplicatesResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if catalog.asked != "op-9" || got.Scanned != 3 || len(got.Groups) != 1 {
		t.Fatalf("response = %+v (asked %q)", got, catalog.asked)
	}
	if len(got.Groups[0].Members) != 2 || got.Groups[0].Members[0].ID != "a" {
		t.Fatalf("group = %+v", got.Groups[0])
	}
}

func TestHealthcheck(t *testing.T) {
	h := newTestHandler(&stubIdentifier{}, nil, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if rec.Body.String() != "OK" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestIdentifyStream(t *testing.T) {
	h := newTestHandler(&stubIdentifier{result: &enrichment.Result{Record: gelato()}}, nil, nil)
	server := httptest.NewServer(h.Routes())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/identify/stream"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(identifyRequest{Text: "gelato"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var types []string
	for {
		var ev enrichment.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		types = append(types, ev.Type)
		if ev.Type == enrichment.StreamComplete && ev.Record.Name != "Gelato" {
			t.Errorf("record = %+v", ev.Record)
		}
	}
	if len(types) != 2 || types[1] != enrichment.StreamComplete {
		t.Fatalf("event types = %v", types)
	}
}

func TestSessionEventsWebsocket(t *testing.T) {
	sessions := newStubSessions()
	h := newTestHandler(&stubIdentifier{}, sessions, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	server := httptest.NewServer(h.Routes())
	defer server.Close()

	if _, err := sessions.Start(ctx, "op-1"); err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/api/sessions/sess-1/events"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Registration is asynchronous; publish until the subscriber sees one.
	received := make(chan session.Event, 1)
	go func() {
		var ev session.Event
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
		close(received)
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-received:
			if !ok {
				t.Fatal("no event received")
			}
			if ev.Type != session.EventScanAppended || ev.Record.Name != "Gelato" {
				t.Fatalf("event = %+v", ev)
			}
			return
		case <-ticker.C:
			sessions.events <- session.Event{Type: session.EventScanAppended, SessionID: "sess-1", Record: gelato()}
		}
	}
}

func TestUnknownSessionEventsRejected(t *testing.T) {
	h := newTestHandler(&stubIdentifier{}, newStubSessions(), nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
