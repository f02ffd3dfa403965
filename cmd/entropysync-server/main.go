// Command entropysync-server is a sample binary wiring the session,
// listener, transport, and ambient-stack packages into a runnable
// WebSocket server. It exists to exercise the library end to end, not
// as a product in its own right.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/entropysync/internal/config"
	"github.com/adred-codev/entropysync/internal/logging"
	"github.com/adred-codev/entropysync/internal/metrics"
	"github.com/adred-codev/entropysync/internal/platform"
	"github.com/adred-codev/entropysync/internal/workerpool"
	"github.com/adred-codev/entropysync/pkg/catalog"
	"github.com/adred-codev/entropysync/pkg/conn"
	"github.com/adred-codev/entropysync/pkg/listener"
	"github.com/adred-codev/entropysync/pkg/nack"
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/session"
	"github.com/adred-codev/entropysync/pkg/transport"
)

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging (overrides ENTROPYSYNC_LOG_LEVEL)")
	flag.Parse()

	bootstrapLogger := logging.New(logging.Config{Level: "info", Format: "console"})

	maxProcs := runtime.GOMAXPROCS(0)
	bootstrapLogger.Info().Int("gomaxprocs", maxProcs).Msg("runtime initialized")

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	memLimit, err := platform.MemoryLimit()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to detect container memory limit")
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = platform.MaxSessions(memLimit)
	}
	cpuMonitor := platform.NewCPUMonitor(logger)
	logger.Info().Str("cpu_mode", cpuMonitor.Mode()).Float64("cpu_allocation", cpuMonitor.GetAllocation()).Msg("cpu monitoring ready")

	met := metrics.New()

	propertyRegistry := property.NewRegistry()
	schemaRegistry := schema.NewRegistry()
	nackPolicy := nack.NewPolicy()
	if cfg.NackEnabled {
		nackPolicy.Enable()
	}
	nackTracker := nack.NewTracker(nack.TrackerConfig{LogInterval: cfg.NackLogSuppressMs})

	sessionManager := session.NewManager(cfg.MaxSessions, session.ManagerConfig{
		SchemaRegistry:   schemaRegistry,
		PropertyRegistry: propertyRegistry,
		NackPolicy:       nackPolicy,
		NackTracker:      nackTracker,
		BatchIntervalMs:  cfg.BatchIntervalMs,
	})

	// connManager tracks raw transport admission/accounting (rate
	// limiting, active count); sessionManager wraps the same
	// transports with the protocol state machine. A connection lives
	// in both pools at once, addressed by two independent handles.
	connManager := conn.New(cfg.MaxConnections)
	acceptLimiter := listener.NewAcceptLimiter(listener.AcceptLimiterConfig{
		GlobalRate:    cfg.AcceptGlobalRate,
		GlobalBurst:   cfg.AcceptGlobalBurst,
		PerRemoteRate: cfg.AcceptPerRemoteRate,
		PerRemoteTTL:  cfg.AcceptPerRemoteTTL,
	})
	defer acceptLimiter.Stop()
	lis := listener.New(connManager, acceptLimiter)

	pool := workerpool.New(workerpool.Config{
		WorkerCount: maxProcs * 2,
		QueueSize:   maxProcs * 200,
		Logger:      logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	met.CPUAllocatedCores.Set(cpuMonitor.GetAllocation())
	go sampleCPU(ctx, cpuMonitor, met, logger, cfg.MetricsInterval)

	if cfg.NatsURL != "" {
		bridge, err := catalog.NewBridge(catalog.BridgeConfig{
			URL:     cfg.NatsURL,
			OnError: func(err error) { logger.Error().Err(err).Msg("catalog bridge error") },
		})
		if err != nil {
			logger.Warn().Err(err).Msg("catalog bridge disabled: failed to connect to nats")
		} else {
			bridge.Attach(schemaRegistry)
			defer bridge.Close()
		}
	}

	if brokers := splitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		archiver, err := catalog.NewSnapshotArchiver(catalog.ArchiverConfig{
			Brokers: brokers,
			Topic:   cfg.SnapshotTopic,
			OnError: func(err error) { logger.Error().Err(err).Msg("snapshot archiver error") },
		})
		if err != nil {
			logger.Warn().Err(err).Msg("snapshot archiver disabled: failed to connect to kafka")
		} else {
			defer archiver.Close(context.Background())
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleUpgrade(w, r, lis, sessionManager, met, logger)
	})

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: met.Handler()}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	lis.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
	pool.Stop()
}

// sampleCPU periodically reads the process's CPU usage and CFS
// throttling counters and mirrors them onto the metrics registry,
// exercising CPUMonitor.GetPercent beyond the one-shot allocation
// check taken at boot.
func sampleCPU(ctx context.Context, cpuMonitor *platform.CPUMonitor, met *metrics.Metrics, logger zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percent, throttle, err := cpuMonitor.GetPercent()
			if err != nil {
				logger.Warn().Err(err).Msg("cpu sample failed")
				continue
			}
			met.CPUPercent.Set(percent)
			met.CPUThrottledPeriods.Add(float64(throttle.NrThrottled))
			met.CPUThrottledSeconds.Add(throttle.ThrottledSec)
			if throttle.NrThrottled > 0 {
				logger.Warn().Float64("cpu_percent", percent).Uint64("throttled_periods", throttle.NrThrottled).Msg("cpu throttled")
			}
		}
	}
}

// handleUpgrade promotes one HTTP request to a WebSocket transport,
// admits it through the listener's rate limiter, and wraps it in a
// protocol session. The transport is already in scope here, so there
// is no need to recover it from connManager's opaque handle.
func handleUpgrade(w http.ResponseWriter, r *http.Request, lis *listener.Listener, sessionManager *session.Manager, met *metrics.Metrics, logger zerolog.Logger) {
	c, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	t := transport.NewRemoteServer(c)

	if res := lis.Adopt(t, r.RemoteAddr); res.Failed() {
		met.RejectedConnections.Inc()
		t.Disconnect()
		return
	}
	met.AcceptedConnections.Inc()

	sh := sessionManager.Open(t, session.Callbacks{
		OnError: func(code netcode.Code, message string) {
			logger.Warn().Str("code", code.String()).Str("message", message).Msg("session error")
		},
	})
	if sh.Failed() {
		logger.Error().Str("code", sh.Code.String()).Msg("failed to open session")
		t.Disconnect()
		return
	}
	met.SessionsOpened.Inc()
	met.SessionsActive.Set(float64(sessionManager.ActiveCount()))
}
