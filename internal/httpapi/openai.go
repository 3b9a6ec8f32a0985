package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// modelField is the minimal shape needed to peek the "model" field off
// an OpenAI-style JSON body without committing to the rest of its
// schema, which varies across chat/completions/embeddings.
type modelField struct {
	Model string `json:"model"`
}

// handleOpenAIProxy backs /v1/chat/completions, /v1/completions, and
// /v1/embeddings: it peeks the model name from the JSON body, restores
// the body verbatim, and hands off to the dispatcher for the actual
// (streaming) proxy call.
func (api *API) handleOpenAIProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, httpBadRequest("request body too large or unreadable"))
		return
	}
	var mf modelField
	if err := json.Unmarshal(raw, &mf); err != nil || mf.Model == "" {
		writeJSONError(w, httpBadRequest(`request body must be JSON with a non-empty "model" field`))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	r = r.WithContext(ctx)

	logRequest(r, LevelInfo, func(ev *zerolog.Event) {
		ev.Str("path", r.URL.Path).Str("model", mf.Model).Msg("openai proxy start")
	})
	api.Dispatcher.ServeModelRequest(w, r, mf.Model, "")
	logRequest(r, LevelInfo, func(ev *zerolog.Event) {
		ev.Str("path", r.URL.Path).Str("model", mf.Model).Dur("dur", time.Since(start)).Msg("openai proxy end")
	})
}

// httpBadRequest wraps a message as an HTTPError with status 400,
// without borrowing an apierr.Kind that doesn't fit ("bad request" is a
// transport-layer concern, not a core lifecycle error).
type httpBadRequestError string

func (e httpBadRequestError) Error() string   { return string(e) }
func (e httpBadRequestError) StatusCode() int { return http.StatusBadRequest }

func httpBadRequest(msg string) error { return httpBadRequestError(msg) }
