package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/dispatcher"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/manager"
)

func newTestAPI(t *testing.T, backend *httptest.Server) *API {
	t.Helper()
	cfg := config.Config{
		HealthCheckTimeoutSeconds: 15,
		Models: map[string]config.ModelConfig{
			"m1": {ID: "m1", Cmd: config.RawCmd{"sleep", "30"}, Proxy: backend.URL, CheckEndpoint: config.NoHealthCheck},
		},
		Groups: map[string]config.GroupConfig{
			config.DefaultGroupID: {ID: config.DefaultGroupID, Members: []string{"m1"}, Swap: true, Exclusive: true},
		},
		Aliases: map[string]string{"m1": "m1"},
	}
	bus := events.NewBus()
	mgr := manager.New(cfg, bus, zerolog.Nop())
	t.Cleanup(func() { mgr.ShutdownAll(context.Background()) })
	return &API{
		Manager:    mgr,
		Dispatcher: dispatcher.New(mgr, zerolog.Nop()),
		Bus:        bus,
		Config:     cfg,
	}
}

func TestHandleListModels(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	api := newTestAPI(t, backend)
	r := NewMux(api)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected 1 model, got %v", body)
	}
}

func TestHandleOpenAIProxySwapsAndForwards(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()
	api := newTestAPI(t, backend)
	r := NewMux(api)

	body := bytes.NewBufferString(`{"model":"m1","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestHandleOpenAIProxyMissingModel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	api := newTestAPI(t, backend)
	r := NewMux(api)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestHandleRunning(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	api := newTestAPI(t, backend)
	r := NewMux(api)

	req := httptest.NewRequest(http.MethodGet, "/running", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	procs, _ := body["processes"].([]any)
	if len(procs) != 1 {
		t.Fatalf("expected 1 process entry, got %v", body)
	}
}

func TestHealthz(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	api := newTestAPI(t, backend)
	r := NewMux(api)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}
