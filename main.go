package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"image-optimizer/internal/blob"
	"image-optimizer/internal/catalog"
	"image-optimizer/internal/convert"
	"image-optimizer/internal/handlers"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/memory"
	"image-optimizer/internal/metrics"
	"image-optimizer/internal/middleware"
	"image-optimizer/internal/negotiate"
	"image-optimizer/internal/policy"
	"image-optimizer/internal/probe"
	"image-optimizer/internal/scheduler"
	"image-optimizer/internal/startup"
	"image-optimizer/internal/store"
	"image-optimizer/internal/workers"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Derive GOMEMLIMIT from the container limit, then start the
	// memory monitor before anything allocation-heavy
	memory.ConfigureFromEnv()
	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	// Initialize the native encoder. AVIF output degrades gracefully
	// when libvips is missing; WebP and re-encoding still work.
	if err := convert.InitVips(); err != nil {
		logging.Warn("libvips unavailable, AVIF encoding disabled: %v", err)
	}
	conv := convert.New(config.MaxImageDimension, monitor.Limit())
	pr := probe.New(monitor)
	caps := pr.Probe()
	startup.LogConverterInit(caps.AVIFSupported, caps.WebPSupported, caps.FallbackTranscoderAvailable)

	// Initialize the media catalog and blob store over the media root
	cat := catalog.NewDirectory(config.MediaDir)
	blobs := blob.NewFS(config.MediaDir, config.PublicBaseURL)

	// Initialize the conversion record store
	storeStart := time.Now()
	st, err := store.New(context.Background(), config.DatabasePath, cat, config.MaxRetryAttempts)
	if err != nil {
		startup.LogFatal("Failed to initialize conversion store: %v", err)
	}
	defer st.Close()
	startup.LogStoreInit(time.Since(storeStart))

	// Initialize the batch scheduler
	sched := scheduler.New(st, cat, blobs, conv, pr, monitor,
		policy.Config{
			MinSavingsPct:      config.MinSavingsPct,
			MinSourceSizeBytes: config.MinSourceSizeBytes,
		},
		scheduler.Config{
			BatchSize:         config.BatchSize,
			Workers:           workers.ForCPU(0),
			AVIFQuality:       config.AVIFQuality,
			WebPQuality:       config.WebPQuality,
			ReencodeQuality:   config.ReencodeQuality,
			ConversionTimeout: config.ConversionTimeout,
			PreserveOriginals: config.PreserveOriginals,
		})

	// Content negotiation over the record store, falling back to
	// catalog originals for assets with no record yet
	neg := negotiate.New(st, negotiate.NewCatalogOriginals(cat, blobs))

	// Initialize handlers and router
	h := handlers.New(st, sched, neg, pr, blobs, config)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Metrics
	var collector *metrics.Collector
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
		collector = metrics.NewCollector(st, config.StatsInterval)
		collector.Start()
		go serveMetrics(config.MetricsPort)
	}

	// Middleware chain: metrics innermost so it sees final status codes
	var handler http.Handler = router
	if config.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Optionally run batches on a timer
	batchStop := make(chan struct{})
	if config.BatchInterval > 0 {
		go runPeriodicBatches(sched, config.BatchInterval, batchStop)
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, sched, monitor, collector, batchStop)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func serveMetrics(port string) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, metricsMux); err != nil && err != http.ErrServerClosed {
		logging.Error("Metrics server error: %v", err)
	}
}

func runPeriodicBatches(sched *scheduler.Scheduler, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := sched.Start(context.Background())
			switch err {
			case nil:
				logging.Info("Periodic batch run started")
			case scheduler.ErrAlreadyRunning, scheduler.ErrNothingToProcess:
				logging.Debug("Periodic batch skipped: %v", err)
			default:
				logging.Error("Periodic batch failed to start: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func handleShutdown(srv *http.Server, sched *scheduler.Scheduler, monitor *memory.Monitor, collector *metrics.Collector, batchStop chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(batchStop)

	startup.LogShutdownStep("Cancelling batch scheduler")
	sched.Cancel()
	sched.Drain(20 * time.Second)
	startup.LogShutdownStepComplete("Batch scheduler drained")

	if collector != nil {
		startup.LogShutdownStep("Stopping metrics collector")
		collector.Stop()
		startup.LogShutdownStepComplete("Metrics collector stopped")
	}

	startup.LogShutdownStep("Stopping memory monitor")
	monitor.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Releasing image libraries")
	convert.ShutdownVips()
	startup.LogShutdownStepComplete("Image libraries released")

	startup.LogShutdownComplete()
}
