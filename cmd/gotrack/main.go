package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shortontech/gotrack/internal/assets"
	"github.com/shortontech/gotrack/internal/detect/orchestrator"
	"github.com/shortontech/gotrack/internal/detect/report"
	"github.com/shortontech/gotrack/internal/detect/session"
	"github.com/shortontech/gotrack/internal/event"
	httpx "github.com/shortontech/gotrack/internal/http"
	"github.com/shortontech/gotrack/internal/metrics"
	"github.com/shortontech/gotrack/internal/sink"
	"github.com/shortontech/gotrack/pkg/config"
)

// buildSinks starts one sink.Sink per entry in cfg.Outputs and returns a
// fan-out Emit function that enqueues to all of them, logging (never
// panicking on) a per-sink enqueue failure.
func buildSinks(ctx context.Context, cfg config.Config, m *metrics.Metrics) (func(event.Event), func() error) {
	var sinks []sink.Sink
	for _, name := range cfg.Outputs {
		switch name {
		case "log":
			sinks = append(sinks, sink.NewLogSink())
		case "kafka":
			sinks = append(sinks, sink.NewKafkaSinkFromEnv())
		case "postgres":
			sinks = append(sinks, sink.NewPGSink(cfg.DetectPGDSN))
		default:
			log.Printf("gotrack: unknown OUTPUTS entry %q ignored", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewLogSink())
	}
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			log.Printf("gotrack: sink %s failed to start: %v", s.Name(), err)
		}
	}

	emit := func(ev event.Event) {
		for _, s := range sinks {
			if err := s.Enqueue(ev); err != nil {
				if m != nil {
					m.IncrementSinkErrors(s.Name(), "enqueue")
				}
				log.Printf("gotrack: sink %s enqueue failed: %v", s.Name(), err)
				continue
			}
			if m != nil {
				m.IncrementEventsIngested(s.Name())
			}
		}
	}
	closeAll := func() error {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Printf("gotrack: sink %s close failed: %v", s.Name(), err)
			}
		}
		return nil
	}
	return emit, closeAll
}

// buildDetectEnv wires the detection engine's session store and registry.
// Returns nil when detection is disabled so /detect/* routes are not
// registered at all.
func buildDetectEnv(ctx context.Context, cfg config.Config, emit func(event.Event)) *httpx.DetectEnv {
	if !cfg.DetectEnabled {
		return nil
	}

	var store session.Store
	if cfg.DetectPGDSN != "" {
		pg, err := session.NewPGStore(cfg.DetectPGDSN, "agentdetect_sessions")
		if err != nil {
			log.Printf("gotrack: detect PG store unavailable, falling back to memory: %v", err)
			store = session.NewMemoryStore()
		} else {
			store = pg
		}
	} else {
		store = session.NewMemoryStore()
	}

	orchCfg := orchestrator.Config{
		Enabled:        cfg.DetectEnabled,
		ReportInterval: cfg.DetectReportIntervalMs,
		MinReportScore: int(cfg.DetectMinReportScore),
		SessionKey:     cfg.DetectSessionKey,
		Debug:          cfg.DetectDebug,
	}

	reportEmit := func(rpc report.RPC) {
		emit(event.Event{Type: "detection_report", Detection: json.RawMessage(report.Marshal(rpc))})
	}
	reg := orchestrator.NewRegistry(store, orchCfg, reportEmit, time.Duration(cfg.DetectSessionMaxAgeMs)*time.Millisecond)
	reg.StartReaper(ctx, time.Duration(cfg.DetectReapIntervalMs)*time.Millisecond)

	return &httpx.DetectEnv{
		Cfg:      orchCfg,
		Registry: reg,
		Emit:     emit,
		SensorJS: assets.SensorJS,
	}
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.InitMetrics()

	emit, closeSinks := buildSinks(ctx, cfg, m)

	var hmacAuth *httpx.HMACAuth
	if cfg.HMACSecret != "" {
		hmacAuth = httpx.NewHMACAuth(cfg.HMACSecret, cfg.HMACPublicKey, cfg.HMACRequire)
	}

	if os.Getenv("TEST_MODE") != "" {
		runTestMode(emit)
		_ = closeSinks()
		return
	}

	detectEnv := buildDetectEnv(ctx, cfg, emit)

	env := httpx.Env{
		Cfg:      cfg,
		Emit:     emit,
		HMACAuth: hmacAuth,
		Metrics:  m,
		Detect:   detectEnv,
	}

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: httpx.NewMux(env),
	}

	metricsCfg := metrics.LoadConfig()
	metricsSrv := metrics.NewServer(metricsCfg)

	go func() {
		log.Printf("gotrack listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if err := metricsSrv.Start(ctx); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if detectEnv != nil {
		detectEnv.Registry.Shutdown()
	}
	_ = closeSinks()
}
