// Package dispatcher implements §4.4: it is what the HTTP endpoint layer
// calls for every model-scoped request. It resolves a model name to a
// READY Process via internal/manager, gates on readiness with a
// retry-once policy, and reverse-proxies the request while guaranteeing
// in-flight accounting runs exactly once per request.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/apierr"
	"github.com/gpubuilders/model-swapping-service/internal/manager"
	"github.com/gpubuilders/model-swapping-service/internal/process"
	"github.com/gpubuilders/model-swapping-service/pkg/types"
)

// Dispatcher resolves model names to READY processes and reverse-proxies
// HTTP requests to them.
type Dispatcher struct {
	mgr *manager.Manager
	log zerolog.Logger
}

// New constructs a Dispatcher over mgr.
func New(mgr *manager.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{mgr: mgr, log: log}
}

// Resolve implements steps 1-2 of §4.4: swap to the requested model,
// retrying once if a race with eviction leaves the process not READY
// immediately after swap returns.
func (d *Dispatcher) Resolve(ctx context.Context, requestedName string) (*process.Process, string, error) {
	proc, resolvedID, err := d.mgr.Swap(ctx, requestedName)
	if err != nil {
		return nil, "", err
	}
	if proc.State() == process.StateReady {
		return proc, resolvedID, nil
	}

	// Raced with eviction between Activate's start() returning and here;
	// retry once.
	proc, resolvedID, err = d.mgr.Swap(ctx, requestedName)
	if err != nil {
		return nil, "", err
	}
	if proc.State() != process.StateReady {
		return nil, "", apierr.NewUnexpectedExit(resolvedID, nil)
	}
	return proc, resolvedID, nil
}

// ServeModelRequest implements steps 3-5 of §4.4 in full: it resolves the
// model, registers in-flight, proxies the request, and always releases
// the in-flight slot exactly once regardless of how the handler exits.
//
// upstreamPathPrefix, when non-empty, is stripped from r.URL.Path before
// forwarding (the "/upstream/<name>" -> "/" rewrite rule); pass "" for
// the OpenAI-style surface, which forwards the original path unchanged.
func (d *Dispatcher) ServeModelRequest(w http.ResponseWriter, r *http.Request, requestedName, upstreamPathPrefix string) {
	proc, resolvedID, err := d.Resolve(r.Context(), requestedName)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	release := proc.BeginRequest()
	defer release()

	d.proxyToProcess(w, r, proc, resolvedID, upstreamPathPrefix)
}

// ServeAggregateRequest implements §4.4's non-model-scoped rule: paths
// that name no model (an aggregate `/slots` or `/props` view) dispatch to
// the most recently started READY process, or a synthetic default
// response if none is READY. Unlike ServeModelRequest this never calls
// Swap — it only looks at whatever is already running.
func (d *Dispatcher) ServeAggregateRequest(w http.ResponseWriter, r *http.Request) {
	proc, ok := d.NonModelScoped()
	if !ok {
		writeSyntheticDefault(w, r)
		return
	}

	release := proc.BeginRequest()
	defer release()

	d.proxyToProcess(w, r, proc, proc.ID(), "")
}

// proxyToProcess reverse-proxies r to proc's backend, rewriting
// upstreamPathPrefix out of the path first when non-empty.
func (d *Dispatcher) proxyToProcess(w http.ResponseWriter, r *http.Request, proc *process.Process, resolvedID, upstreamPathPrefix string) {
	target, err := url.Parse(proc.Config().Proxy)
	if err != nil {
		writeAPIError(w, apierr.NewProxyUpstream(resolvedID, err))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.FlushInterval = -1 // flush immediately on every write, required for SSE

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		if upstreamPathPrefix != "" {
			req.URL.Path = rewriteUpstreamPath(req.URL.Path, upstreamPathPrefix)
		}
		req.Host = target.Host
	}

	wroteBytes := false
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		d.log.Error().Err(err).Str("model_id", resolvedID).Msg("upstream proxy error")
		if wroteBytes {
			// Bytes already reached the client; the only safe move is to
			// stop writing, not to send a second status line.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, hjErr := hj.Hijack(); hjErr == nil {
					_ = conn.Close()
					return
				}
			}
			return
		}
		writeAPIError(w, apierr.NewProxyUpstream(resolvedID, err))
	}

	rw := &trackingResponseWriter{ResponseWriter: w, wrote: &wroteBytes}
	proxy.ServeHTTP(rw, r)
}

// writeSyntheticDefault answers an aggregate request when no process is
// READY anywhere: an empty, well-formed body rather than an error, since
// "no backend loaded" is a normal state for these views, not a failure.
func writeSyntheticDefault(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	switch {
	case strings.HasSuffix(r.URL.Path, "/slots"):
		_, _ = w.Write([]byte(`[]`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

// rewriteUpstreamPath strips "/upstream/<name>" and leaves the remainder,
// defaulting to "/" if nothing remains.
func rewriteUpstreamPath(path, prefix string) string {
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

// trackingResponseWriter records whether any bytes (status line or body)
// have been written yet, so the ErrorHandler can decide between a clean
// 502 and closing the connection per §4.4's rule.
type trackingResponseWriter struct {
	http.ResponseWriter
	wrote *bool
}

func (rw *trackingResponseWriter) WriteHeader(status int) {
	*rw.wrote = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *trackingResponseWriter) Write(b []byte) (int, error) {
	*rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

func (rw *trackingResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards WebSocket upgrades per §4.4's requirement that upgrades
// be forwarded, not terminated by the proxy layer.
func (rw *trackingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	*rw.wrote = true
	return hj.Hijack()
}

var _ http.ResponseWriter = (*trackingResponseWriter)(nil)
var _ http.Flusher = (*trackingResponseWriter)(nil)
var _ http.Hijacker = (*trackingResponseWriter)(nil)

// writeAPIError maps a core error to its HTTP status and JSON body.
func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var resp types.ErrorResponse
	resp.Error.Message = err.Error()
	if apiErr, ok := err.(*apierr.Error); ok {
		status = apiErr.StatusCode()
		resp.Error.Kind = string(apiErr.Kind)
		resp.Error.Model = apiErr.Model
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// NonModelScoped resolves a request against a path that names no model
// (e.g. an aggregate /slots view) to the most recently started READY
// process, per §4.4's fallback rule.
func (d *Dispatcher) NonModelScoped() (*process.Process, bool) {
	p := d.mgr.MostRecentlyStartedReady()
	return p, p != nil
}
