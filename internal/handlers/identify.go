package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/providers"
)

// Limit uploads to 10MB per image
const maxUploadSize = 10 * 1024 * 1024

type identifyRequest struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	OperatorID string `json:"operator_id"`
	// Images holds base64 payloads or data URIs
	Images []string `json:"images,omitempty"`
}

type identifyFailure struct {
	Error    string                `json:"error"`
	Fallback *models.ProductRecord `json:"fallback,omitempty"`
}

// HandleIdentify runs one enrichment request from a multipart upload or a JSON body
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	var (
		req enrichment.Request
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = h.multipartRequest(r)
	} else {
		var body identifyRequest
		if err = json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		req, err = body.toRequest()
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.identifier.Enrich(r.Context(), req)
	var pipelineErr *enrichment.PipelineError
	switch {
	case err == nil:
		h.writeJSON(w, result)
	case errors.Is(err, enrichment.ErrEmptyRequest):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &pipelineErr):
		h.logger.Warn("Identification failed, returning fallback", "err", err)
		h.writeJSONStatus(w, http.StatusBadGateway, identifyFailure{
			Error:    pipelineErr.Error(),
			Fallback: pipelineErr.Fallback,
		})
	default:
		h.writeError(w, "Identification failed: "+err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) multipartRequest(r *http.Request) (enrichment.Request, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return enrichment.Request{}, fmt.Errorf("Failed to parse form: %w", err)
	}
	source := r.FormValue("source")
	if err := checkSource(source); err != nil {
		return enrichment.Request{}, err
	}
	req := enrichment.Request{
		Text:       r.FormValue("text"),
		Source:     models.Source(source),
		OperatorID: r.FormValue("operator_id"),
	}
	for _, field := range []string{"files", "file"} {
		for _, header := range r.MultipartForm.File[field] {
			img, err := readUpload(header)
			if err != nil {
				return enrichment.Request{}, err
			}
			req.Images = append(req.Images, img)
		}
	}
	return req, nil
}

func readUpload(header *multipart.FileHeader) (providers.Image, error) {
	file, err := header.Open()
	if err != nil {
		return providers.Image{}, fmt.Errorf("Failed to read file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return providers.Image{}, fmt.Errorf("Failed to read file contents: %w", err)
	}
	if len(data) > maxUploadSize {
		return providers.Image{}, fmt.Errorf("File too large (max 10MB): %s", header.Filename)
	}
	return imagePayload(data, header.Header.Get("Content-Type"))
}

func (b identifyRequest) toRequest() (enrichment.Request, error) {
	if err := checkSource(b.Source); err != nil {
		return enrichment.Request{}, err
	}
	req := enrichment.Request{
		Text:       b.Text,
		Source:     models.Source(b.Source),
		OperatorID: b.OperatorID,
	}
	for i, encoded := range b.Images {
		mime := ""
		if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
			meta, payload, found := strings.Cut(rest, ",")
			if !found {
				return enrichment.Request{}, fmt.Errorf("image %d: malformed data URI", i)
			}
			mime, _, _ = strings.Cut(meta, ";")
			encoded = payload
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return enrichment.Request{}, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		if len(data) > maxUploadSize {
			return enrichment.Request{}, fmt.Errorf("image %d: too large (max 10MB)", i)
		}
		img, err := imagePayload(data, mime)
		if err != nil {
			return enrichment.Request{}, fmt.Errorf("image %d: %w", i, err)
		}
		req.Images = append(req.Images, img)
	}
	return req, nil
}

// imagePayload sniffs the content type when the client did not declare an image one
func imagePayload(data []byte, declared string) (providers.Image, error) {
	mime := declared
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return providers.Image{}, fmt.Errorf("unsupported content type %q", mime)
	}
	return providers.Image{Data: data, MIMEType: mime}, nil
}

func checkSource(source string) error {
	if source != "" && !models.Source(source).Valid() {
		return fmt.Errorf("Invalid source. Must be 'image', 'text', or 'voice'")
	}
	return nil
}

// HandleIdentifyStream reads one request from a websocket and relays the
// pipeline's progress until the terminal event.
func (h *Handler) HandleIdentifyStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4 * maxUploadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	var body identifyRequest
	if err := conn.ReadJSON(&body); err != nil {
		h.writeStreamError(conn, "Invalid request: "+err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeStreamError(conn, err.Error())
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// A read error means the peer went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range h.identifier.Stream(ctx, req) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("Websocket write failed", "err", err)
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Handler) writeStreamError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(enrichment.StreamEvent{Type: enrichment.StreamError, Message: message}); err != nil {
		h.logger.Debug("Websocket write failed", "err", err)
	}
}
