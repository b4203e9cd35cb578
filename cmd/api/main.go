package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mangwale/voice-platform/internal/api/router"
	appbootstrap "github.com/mangwale/voice-platform/internal/app/bootstrap"
	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/internal/carrier"
	appconfig "github.com/mangwale/voice-platform/internal/config"
	"github.com/mangwale/voice-platform/internal/http/handlers"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/internal/report"
	"github.com/mangwale/voice-platform/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"dialect", cfg.Dialect,
	)
	if cfg.CallbackBaseURL == "" {
		logger.Warn("CALLBACK_BASE_URL not set; carrier callbacks cannot reach this instance")
	}

	metricsHandler, registry, callMetrics := setupCallMetrics()

	// Core call engine: flows, state machine, prompt composer, session store.
	encoder, err := carrier.NewEncoder(cfg.Dialect, cfg.CallbackBaseURL+"/callback")
	if err != nil {
		logger.Error("invalid response dialect", "error", err, "dialect", cfg.Dialect)
		os.Exit(1)
	}
	flows := call.NewFlows(cfg.DefaultPrepMinutes)
	machine := call.NewMachine(flows)
	composer := call.NewComposer(call.ComposerConfig{
		Brand:           cfg.BrandName,
		DefaultLanguage: call.ParseLanguage(cfg.DefaultLanguage, call.LanguageHindi),
		AudioBaseURL:    cfg.PromptAudioBaseURL,
	})
	store := call.NewStore(call.StoreConfig{
		LiveTTL:     cfg.SessionLiveTTL,
		ReportedTTL: cfg.SessionReportedTTL,
	})

	// Background work (queue consumers, retry loop, sweeper) stops when this
	// context is cancelled during shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	snapshots := appbootstrap.BuildSnapshotter(workerCtx, cfg, logger)

	reporter, reportWorker, journal, err := appbootstrap.BuildReportPipeline(
		workerCtx, cfg, store, snapshots, callMetrics, logger.Component("report"))
	if err != nil {
		logger.Error("failed to assemble report pipeline", "error", err)
		os.Exit(1)
	}
	reportWorker.Start(workerCtx)
	go reporter.Run(workerCtx)

	// Outcomes that never left the previous process go back on the queue.
	appbootstrap.RestoreSnapshots(workerCtx, snapshots, reporter.Enqueue, logger)

	sweeper := call.NewSweeper(call.SweeperConfig{
		Store:    store,
		Interval: cfg.SessionSweepEvery,
		OnExpired: func(ctx context.Context, st *call.State) {
			if err := snapshots.Save(ctx, st); err != nil {
				logger.Warn("failed to snapshot expired session", "error", err, "call_sid", st.CallSid)
				callMetrics.ObserveSnapshotError()
			}
			if err := reporter.Enqueue(ctx, st); err != nil {
				logger.Error("failed to enqueue expired session outcome", "error", err, "call_sid", st.CallSid)
			}
		},
		OnSweep: callMetrics.SetLiveSessions,
		Logger:  logger.Component("sweeper"),
	})
	go sweeper.Run(workerCtx)

	// Initialize handlers
	callbackHandler, err := handlers.NewCallbackHandler(handlers.CallbackConfig{
		Store:     store,
		Machine:   machine,
		Composer:  composer,
		Encoder:   encoder,
		Flows:     flows,
		Snapshots: snapshots,
		Metrics:   callMetrics,
		Logger:    logger.Component("callback"),
		LockWait:  cfg.LockWait,
		Budget:    cfg.HandlerBudget,
	})
	if err != nil {
		logger.Error("failed to build callback handler", "error", err)
		os.Exit(1)
	}
	statusHandler, err := handlers.NewStatusHandler(handlers.StatusConfig{
		Store:     store,
		Flows:     flows,
		Reporter:  reporter,
		Snapshots: snapshots,
		Metrics:   callMetrics,
		Logger:    logger.Component("status"),
	})
	if err != nil {
		logger.Error("failed to build status handler", "error", err)
		os.Exit(1)
	}

	initiateHandler, disabledReason := setupInitiation(cfg, store, flows, callMetrics, logger)
	if initiateHandler == nil {
		logger.Warn("call initiation disabled", "reason", disabledReason)
	}

	opsCfg := handlers.OpsConfig{
		Store:    store,
		Gatherer: registry,
		Logger:   logger.Component("ops"),
	}
	if journal != nil {
		opsCfg.Journal = journal
	}
	opsHandler, err := handlers.NewOpsHandler(opsCfg)
	if err != nil {
		logger.Error("failed to build ops handler", "error", err)
		os.Exit(1)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:         logger,
		Callback:       callbackHandler,
		Status:         statusHandler,
		Initiate:       initiateHandler,
		Health:         handlers.NewHealthHandler(store, reporter, encoder.Dialect()),
		Ops:            opsHandler,
		MetricsHandler: metricsHandler,
		AuthSecret:     cfg.InitiateAuthSecret,
		InitiateRate:   cfg.InitiateRatePerSec,
		InitiateBurst:  cfg.InitiateBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop taking carrier traffic first, then drain the report workers so
	// in-flight outcomes get their delivery attempt.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopWorkers()
	waitForReportWorker(reportWorker, logger)

	logger.Info("server stopped")
}

// setupCallMetrics registers the engine collectors on a private registry so
// the ops totals endpoint sees exactly the voice counters.
func setupCallMetrics() (http.Handler, *prometheus.Registry, *metrics.CallMetrics) {
	registry := prometheus.NewRegistry()
	callMetrics := metrics.NewCallMetrics(registry)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, registry, callMetrics
}

// setupInitiation wires the carrier client and the initiation endpoint.
// Returns a nil handler plus the reason when carrier credentials are absent;
// the process still serves callbacks for calls placed by other instances.
func setupInitiation(
	cfg *appconfig.Config,
	store *call.Store,
	flows *call.Flows,
	callMetrics *metrics.CallMetrics,
	logger *logging.Logger,
) (*handlers.InitiateHandler, string) {
	client, err := carrier.NewClient(carrier.ClientConfig{
		BaseURL:         cfg.CarrierBaseURL,
		Subdomain:       cfg.CarrierSubdomain,
		AccountSID:      cfg.CarrierAccountSID,
		APIKey:          cfg.CarrierAPIKey,
		APIToken:        cfg.CarrierAPIToken,
		CallerID:        cfg.CarrierCallerID,
		AppID:           cfg.CarrierAppID,
		CallbackBaseURL: cfg.CallbackBaseURL,
		Logger:          logger.Component("carrier"),
	})
	if err != nil {
		return nil, err.Error()
	}

	initiator, err := call.NewInitiator(call.InitiatorConfig{
		Store:       store,
		Placer:      client,
		Flows:       flows,
		TimeLimit:   cfg.CallTimeLimit,
		RingTimeout: cfg.CallRingTimeout,
		Logger:      logger.Component("initiator"),
	})
	if err != nil {
		return nil, err.Error()
	}

	handler, err := handlers.NewInitiateHandler(handlers.InitiateConfig{
		Initiator:       initiator,
		DefaultLanguage: call.ParseLanguage(cfg.DefaultLanguage, call.LanguageHindi),
		Metrics:         callMetrics,
		Logger:          logger.Component("initiate"),
	})
	if err != nil {
		return nil, err.Error()
	}
	return handler, ""
}

// waitForReportWorker blocks until the queue consumers drain or the shutdown
// grace period runs out.
func waitForReportWorker(worker *report.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("report worker stopped")
	case <-doneCtx.Done():
		logger.Error("report worker shutdown timed out", "error", doneCtx.Err())
	}
}
