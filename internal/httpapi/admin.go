package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gpubuilders/model-swapping-service/internal/apierr"
	"github.com/gpubuilders/model-swapping-service/internal/process"
	"github.com/gpubuilders/model-swapping-service/pkg/types"
)

// handleRunning backs GET /running (§12): a snapshot of every process
// across every group, for operator visibility into what currently holds
// the exclusivity boundary.
func (api *API) handleRunning(w http.ResponseWriter, r *http.Request) {
	var resp types.RunningResponse
	api.Manager.EachProcess(func(groupID string, p *process.Process) {
		st := types.ProcessStatus{
			ModelID:  p.ID(),
			GroupID:  groupID,
			State:    string(p.State()),
			InFlight: p.InFlight(),
		}
		if started := p.StartedAt(); !started.IsZero() {
			st.StartedAt = started.Format(time.RFC3339)
		}
		resp.Processes = append(resp.Processes, st)
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleUnload backs POST /unload/{model} (§12): an operator-triggered
// eviction, bypassing the idle TTL.
func (api *API) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "model")
	resolvedID, ok := api.Config.Aliases[name]
	if !ok {
		writeJSONError(w, apierr.NewUnknownModel(name))
		return
	}
	g := api.Manager.Group(resolvedID)
	if g == nil {
		writeJSONError(w, apierr.NewGroupNotFound(resolvedID))
		return
	}
	proc := g.Process(resolvedID)
	if proc == nil {
		writeJSONError(w, apierr.NewGroupNotFound(resolvedID))
		return
	}
	wasReady := proc.State() == process.StateReady
	_ = proc.Stop(process.WaitForInflight)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.UnloadResponse{ModelID: resolvedID, Stopped: wasReady})
}

// handleLogsStream backs GET /logs/stream (§12): a Server-Sent Events
// tail of every stateChange event published on the bus, for `swapctl
// events` and browser-based dashboards.
func (api *API) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, httpBadRequest("streaming not supported by this connection"))
		return
	}
	sub, unsubscribe := api.Bus.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(sseWriter{w})
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub:
			if !open {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_ = enc.Encode(ev)
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

// sseWriter adapts an http.ResponseWriter so json.Encoder's trailing
// newline lands directly in the SSE frame body.
type sseWriter struct{ w http.ResponseWriter }

func (s sseWriter) Write(b []byte) (int, error) { return s.w.Write(b) }
