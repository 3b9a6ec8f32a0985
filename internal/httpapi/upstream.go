package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleUpstream backs /upstream/{model}/* (§4.4, §12): a raw passthrough
// to a backend's native API (e.g. llama-server's own /slots, /props),
// rewriting the "/upstream/<name>" prefix to "/" before forwarding.
func (api *API) handleUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "model")
	prefix := "/upstream/" + name
	api.Dispatcher.ServeModelRequest(w, r, name, prefix)
}
