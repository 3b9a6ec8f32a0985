// Command swapd is the reverse-proxying model multiplexer daemon: it
// loads a configuration file, builds one ProcessManager over it, and
// serves the OpenAI-compatible + operator HTTP surface until signalled
// to shut down. Grounded on the teacher's cmd/modeld/main.go flag/signal
// wiring, extended per §6's two-signals-to-hard-exit rule.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/dispatcher"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/httpapi"
	"github.com/gpubuilders/model-swapping-service/internal/manager"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := flag.String("addr", envOr("SWAPD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", envOr("SWAPD_CONFIG", "swapd.yaml"), "Path to the YAML/JSON/TOML configuration file")
	logLevel := flag.String("log-level", envOr("SWAPD_LOG_LEVEL", "info"), "zerolog level: trace,debug,info,warn,error")
	corsEnabledFlag := flag.Bool("cors", os.Getenv("SWAPD_CORS") == "1", "enable CORS on the HTTP surface")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "grace period for in-flight requests and backend drains during shutdown")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		log = log.Level(lvl)
	}
	httpapi.SetLogger(log)
	if *corsEnabledFlag {
		httpapi.SetCORSOptions(true, nil, nil, nil)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}

	bus := events.NewBus()
	mgr := manager.New(cfg, bus, log)
	disp := dispatcher.New(mgr, log)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(&httpapi.API{
		Manager:    mgr,
		Dispatcher: disp,
		Bus:        bus,
		Config:     cfg,
	})
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Info().Str("addr", *addr).Str("config", *configPath).Msg("swapd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	go runPreloadHooks(baseCtx, mgr, cfg, log)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, draining")

	go func() {
		<-stop
		log.Error().Msg("second shutdown signal received, exiting immediately")
		os.Exit(1)
	}()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	cancelBase()
	mgr.ShutdownAll(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

// runPreloadHooks warms every model listed under hooks.on_startup.preload
// by invoking the same swap() path a real request would, so a preloaded
// model is indistinguishable from one a client already requested.
func runPreloadHooks(ctx context.Context, mgr *manager.Manager, cfg config.Config, log zerolog.Logger) {
	for _, name := range cfg.Hooks.OnStartup.Preload {
		if _, _, err := mgr.Swap(ctx, name); err != nil {
			log.Error().Err(err).Str("model", name).Msg("preload hook failed")
			continue
		}
		log.Info().Str("model", name).Msg("preload hook warmed model")
	}
}
