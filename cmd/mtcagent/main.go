package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/mtc-agent/internal/adapter"
	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/config"
	"github.com/snarg/mtc-agent/internal/httpapi"
	"github.com/snarg/mtc-agent/internal/metrics"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/observation"
	"github.com/snarg/mtc-agent/internal/pipeline"
	"github.com/snarg/mtc-agent/internal/route"
	"github.com/snarg/mtc-agent/internal/shdr"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes per spec.md §5/§6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitBindFailure    = 2
	exitModelLoadError = 3
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.IntVar(&overrides.Port, "port", 0, "HTTP listen port (overrides PORT)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(exitOK)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("invalid config")
		os.Exit(exitConfigError)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Msg("mtcagent starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Device model: a minimal built-in seed plus the synthesized Agent
	// Device. Loading a real device-model XML file is an external
	// collaborator per spec.md §1; cfg.DeviceModelPath is only watched
	// for changes below, not parsed here.
	m, err := buildSeedModel()
	if err != nil {
		log.Error().Err(err).Msg("failed to build device model")
		os.Exit(exitModelLoadError)
	}

	buf := buffer.New(cfg.BufferSize, cfg.CheckpointFrequency)

	pl := pipeline.New(pipeline.Options{
		Model:   m,
		Buffer:  buf,
		Log:     log.With().Str("component", "pipeline").Logger(),
		Metrics: metrics.PipelineMetrics{},
	})

	var connections []*adapter.Connection
	lastAdapterState := map[string]adapter.State{}
	var lastAdapterStateMu sync.Mutex
	for i, ac := range cfg.Adapters {
		identity := fmt.Sprintf("_%s_%d", ac.Host, ac.Port)
		adapterLog := log.With().Str("component", "adapter").Str("identity", identity).Logger()

		reg := model.AdapterRegistration{
			Identity:          identity,
			Host:              ac.Host,
			Port:              ac.Port,
			ConfiguredDevice:  ac.Device,
			SuppressIPAddress: cfg.SuppressIPAddress,
		}
		if err := m.AddAdapterComponent(reg); err != nil {
			log.Error().Err(err).Int("adapter_index", i).Msg("failed to register adapter component")
			os.Exit(exitModelLoadError)
		}
		connectionStatusID := identity + "_connection_status"

		conn := adapter.New(adapter.Config{
			Host:              ac.Host,
			Port:              ac.Port,
			LegacyTimeout:     time.Duration(cfg.LegacyTimeoutSec) * time.Second,
			ReconnectInterval: time.Duration(cfg.ReconnectIntervalMs) * time.Millisecond,
			Log:               adapterLog,
			OnEvent: func(id string, ev shdr.Event, opts adapter.Options) {
				pl.Process(id, ev, opts)
			},
			OnStatus: func(id string, state adapter.State) {
				lastAdapterStateMu.Lock()
				if prev, ok := lastAdapterState[id]; ok {
					metrics.AdapterConnections.WithLabelValues(prev.String()).Dec()
				}
				lastAdapterState[id] = state
				lastAdapterStateMu.Unlock()
				metrics.AdapterConnections.WithLabelValues(state.String()).Inc()
				buf.Append(observation.Observation{
					DataItemID: connectionStatusID,
					Value:      state.String(),
					Timestamp:  time.Now(),
				})
			},
		})
		connections = append(connections, conn)
		go conn.Run(ctx)
	}

	go reportBufferOccupancy(ctx, buf)

	sessions := httpapi.NewSessionRegistry()
	tbl := buildRouteTable(m, buf, log, sessions)
	dispatcher := &httpapi.Dispatcher{
		Table:    tbl,
		Renderer: httpapi.DefaultRenderer{},
		Log:      log.With().Str("component", "http").Logger(),
		Metrics:  metrics.HTTPRequestMetrics{},
	}

	if cfg.DeviceModelPath != "" {
		watchConfigFile(ctx, cfg.DeviceModelPath, log)
	}

	chained := httpapi.Chain(httpapi.RequestID, httpapi.Logger(log), httpapi.Recoverer, httpapi.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))(dispatcher)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", chained)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	log.Info().Dur("startup_ms", time.Since(startTime)).Msg("mtcagent ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed to bind")
			os.Exit(exitBindFailure)
		}
	}

	// Ordered shutdown per spec.md §5: stop listener (refuse new
	// connections) → cancel all active streaming sessions → stop all
	// adapters → drop the buffer (nothing further references it after
	// this point). Shutdown closes the listener immediately and then
	// blocks until every handler returns, so CancelAll runs concurrently
	// with it rather than after: an idle streaming handler would
	// otherwise block Shutdown until its context deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- srv.Shutdown(shutdownCtx) }()

	sessions.CancelAll()

	if err := <-shutdownDone; err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	for _, conn := range connections {
		conn.Stop()
	}

	log.Info().Msg("mtcagent stopped")
	os.Exit(exitOK)
}

func buildSeedModel() (*model.Model, error) {
	m := model.NewModel()
	if _, err := m.AddAgentDevice(); err != nil {
		return nil, err
	}
	return m, nil
}

func buildRouteTable(m *model.Model, buf *buffer.Buffer, log zerolog.Logger, sessions *httpapi.SessionRegistry) *route.Table {
	tbl := &route.Table{}
	renderer := httpapi.DefaultRenderer{}

	add := func(method, pattern string, h httpapi.Handler) {
		p, err := route.Parse(method, pattern)
		if err != nil {
			panic(fmt.Sprintf("invalid built-in route pattern %q: %v", pattern, err))
		}
		tbl.Add(route.Route{Pattern: p, Handler: h})
	}

	add("GET", "/{device}/probe", httpapi.NewProbeHandler(m, renderer))
	add("GET", "/probe", httpapi.NewProbeHandler(m, renderer))
	add("GET", "/{device}/current?at={unsigned_integer}&path={string}", httpapi.NewCurrentHandler(buf, renderer))
	add("GET", "/current?at={unsigned_integer}&path={string}", httpapi.NewCurrentHandler(buf, renderer))
	sampleOpts := httpapi.SampleOptions{ActiveStreams: metrics.StreamingSessionsActive, Sessions: sessions}
	add("GET", "/{device}/sample?from={unsigned_integer}&count={integer:100}&interval={double}&heartbeat={double:10000}&path={string}",
		httpapi.NewSampleHandler(buf, renderer, sampleOpts))
	add("GET", "/sample?from={unsigned_integer}&count={integer:100}&interval={double}&heartbeat={double:10000}&path={string}",
		httpapi.NewSampleHandler(buf, renderer, sampleOpts))

	assets := &noopAssetStore{}
	add("GET", "/asset/{assets}", httpapi.NewAssetByIDHandler(assets))
	add("GET", "/asset?device={string}&type={string}&count={integer:100}", httpapi.NewAssetQueryHandler(assets))

	cmdLog := log.With().Str("component", "adapter_command").Logger()
	cmd := func(deviceName string, req *httpapi.Request) error {
		cmdLog.Info().Str("device", deviceName).Str("method", req.Raw.Method).Msg("adapter command received, forwarding is out of scope")
		return nil
	}
	add("PUT", "/{device}", httpapi.NewPutHandler(cmd))
	add("DELETE", "/{device}", httpapi.NewDeleteHandler(cmd))

	return tbl
}

// noopAssetStore backs the asset routing contract with an always-empty
// store: asset persistence itself is out of scope per spec.md §1.
type noopAssetStore struct{}

func (noopAssetStore) GetAssets(ids []string) ([]httpapi.Asset, error) {
	return nil, nil
}

func (noopAssetStore) ListAssets(device, assetType string, count int) ([]httpapi.Asset, error) {
	return nil, nil
}

// reportBufferOccupancy periodically publishes the buffer's retained
// observation count until ctx is done.
func reportBufferOccupancy(ctx context.Context, buf *buffer.Buffer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.BufferOccupancy.Set(float64(buf.NextSequence() - buf.FirstSequence()))
		}
	}
}

func watchConfigFile(ctx context.Context, path string, log zerolog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("failed to start config file watcher")
		return
	}
	if err := watcher.Add(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to watch device model path")
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Warn().Str("path", path).Msg("configuration changed on disk, restart to apply — hot reload of the device model is out of scope")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
}
