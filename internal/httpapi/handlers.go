package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"inferd/pkg/types"
)

type handlers struct {
	svc Service
}

// listModels godoc
// @Summary  List available models
// @Tags     models
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 0, types.ModelsResponse{Models: h.svc.ListModels()})
}

// status godoc
// @Summary  Manager and instance status
// @Tags     status
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 0, h.svc.Status())
}

// loadModel godoc
// @Summary  Load a model in the background
// @Tags     models
// @Produce  json
// @Param    id path string true "model id"
// @Success  202 {object} types.LoadResponse
// @Failure  404 {object} types.ErrorResponse
// @Router   /models/{id}/load [post]
func (h *handlers) loadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rl := newRequestLog(r)
	rl.begin(id)
	opID, err := h.svc.Switch(r.Context(), id)
	if err != nil {
		rl.end(writeServiceError(w, err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.LoadResponse{Model: id, OpID: opID})
	rl.end(http.StatusAccepted, nil)
}

// unloadModel godoc
// @Summary  Drain and unload a model instance
// @Tags     models
// @Param    id path string true "model id"
// @Success  204
// @Failure  404 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /models/{id} [delete]
func (h *handlers) unloadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rl := newRequestLog(r)
	rl.begin(id)
	if err := h.svc.Unload(id); err != nil {
		rl.end(writeServiceError(w, err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	rl.end(http.StatusNoContent, nil)
}

// infer godoc
// @Summary  Generate a completion
// @Description Streams NDJSON: one {"token":...} line per piece, then a final line with done=true.
// @Tags     inference
// @Accept   json
// @Produce  application/x-ndjson
// @Param    request body types.InferRequest true "inference request"
// @Success  200 {object} types.FinalLine
// @Failure  400 {object} types.ErrorResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  413 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /infer [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	rl := newRequestLog(r)
	rl.begin(req.Model)

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	out := &countingWriter{w: w}
	var writer io.Writer = out
	if rl.lvl >= LevelDebug {
		writer = io.MultiWriter(out, &loggingLineWriter{rid: rl.rid})
	}

	ctx, cancel := generationContext(r.Context())
	defer cancel()
	err := h.svc.Infer(ctx, req, writer, flush)
	switch {
	case err == nil:
		rl.end(http.StatusOK, nil)
	case clientGone(r.Context()):
		rl.end(http.StatusOK, err)
	case out.n > 0:
		// Headers are gone; report in-band as a last line.
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: statusFor(err)})
		rl.end(http.StatusOK, err)
	default:
		rl.end(writeServiceError(w, err), err)
	}
}

// tokenize godoc
// @Summary  Tokenize text with a model's vocabulary
// @Tags     inference
// @Accept   json
// @Produce  json
// @Param    request body types.TokenizeRequest true "tokenize request"
// @Success  200 {object} types.TokenizeResponse
// @Failure  501 {object} types.ErrorResponse
// @Router   /tokenize [post]
func (h *handlers) tokenize(w http.ResponseWriter, r *http.Request) {
	var req types.TokenizeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rl := newRequestLog(r)
	rl.begin(req.Model)
	resp, err := h.svc.Tokenize(r.Context(), req)
	if err != nil {
		rl.end(writeServiceError(w, err), err)
		return
	}
	writeJSON(w, 0, resp)
	rl.end(http.StatusOK, nil)
}

// detokenize godoc
// @Summary  Convert token ids back to text
// @Tags     inference
// @Accept   json
// @Produce  json
// @Param    request body types.DetokenizeRequest true "detokenize request"
// @Success  200 {object} types.DetokenizeResponse
// @Failure  422 {object} types.ErrorResponse
// @Router   /detokenize [post]
func (h *handlers) detokenize(w http.ResponseWriter, r *http.Request) {
	var req types.DetokenizeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rl := newRequestLog(r)
	rl.begin(req.Model)
	resp, err := h.svc.Detokenize(r.Context(), req)
	if err != nil {
		rl.end(writeServiceError(w, err), err)
		return
	}
	writeJSON(w, 0, resp)
	rl.end(http.StatusOK, nil)
}

// embed godoc
// @Summary  Compute one embedding vector per input text
// @Tags     inference
// @Accept   json
// @Produce  json
// @Param    request body types.EmbedRequest true "embed request"
// @Success  200 {object} types.EmbedResponse
// @Failure  400 {object} types.ErrorResponse
// @Failure  501 {object} types.ErrorResponse
// @Router   /embed [post]
func (h *handlers) embed(w http.ResponseWriter, r *http.Request) {
	var req types.EmbedRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rl := newRequestLog(r)
	rl.begin(req.Model)
	resp, err := h.svc.Embed(r.Context(), req)
	if err != nil {
		rl.end(writeServiceError(w, err), err)
		return
	}
	writeJSON(w, 0, resp)
	rl.end(http.StatusOK, nil)
}

// decodeJSONBody enforces the JSON content type and body limit, writing the
// error response itself when it returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// countingWriter tracks whether any bytes reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
