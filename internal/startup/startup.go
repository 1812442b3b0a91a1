package startup

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"image-optimizer/internal/logging"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	MediaDir        string
	DataDir         string
	Port            string
	MetricsPort     string
	PublicBaseURL   string
	MetricsEnabled  bool
	LogHealthChecks bool

	// Retention policy
	MinSavingsPct      float64
	MinSourceSizeBytes int64

	// Conversion tuning
	AVIFQuality       int
	WebPQuality       int
	ReencodeQuality   int
	MaxImageDimension int
	ConversionTimeout time.Duration
	PreserveOriginals bool
	MaxRetryAttempts  int

	// Batch orchestration
	BatchSize     int
	BatchInterval time.Duration
	StatsInterval time.Duration

	// Derived paths
	DatabasePath string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	mediaDir := getEnv("MEDIA_DIR", "/media")
	dataDir := getEnv("DATA_DIR", "/data")
	port := getEnv("PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")
	publicBaseURL := getEnv("PUBLIC_BASE_URL", "/media")
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", true)

	minSavingsPct := getEnvFloat("MIN_SAVINGS_PCT", 10)
	minSourceSize := getEnvInt64("MIN_SOURCE_SIZE_BYTES", 10240)
	avifQuality := getEnvInt("AVIF_QUALITY", 50)
	webpQuality := getEnvInt("WEBP_QUALITY", 75)
	reencodeQuality := getEnvInt("REENCODE_QUALITY", 82)
	maxDimension := getEnvInt("MAX_IMAGE_DIMENSION", 2560)
	conversionTimeout := getEnvDuration("CONVERSION_TIMEOUT", time.Minute)
	preserveOriginals := getEnvBool("PRESERVE_ORIGINALS", true)
	maxRetryAttempts := getEnvInt("MAX_RETRY_ATTEMPTS", 3)
	batchSize := getEnvInt("BATCH_SIZE", 50)
	batchInterval := getEnvDuration("BATCH_INTERVAL", 0)
	statsInterval := getEnvDuration("STATS_INTERVAL", 30*time.Second)

	logging.Info("  MEDIA_DIR:             %s", mediaDir)
	logging.Info("  DATA_DIR:              %s", dataDir)
	logging.Info("  PORT:                  %s", port)
	logging.Info("  METRICS_PORT:          %s", metricsPort)
	logging.Info("  METRICS_ENABLED:       %v", metricsEnabled)
	logging.Info("  PUBLIC_BASE_URL:       %s", publicBaseURL)
	logging.Info("  MIN_SAVINGS_PCT:       %.1f", minSavingsPct)
	logging.Info("  MIN_SOURCE_SIZE_BYTES: %d", minSourceSize)
	logging.Info("  AVIF_QUALITY:          %d", avifQuality)
	logging.Info("  WEBP_QUALITY:          %d", webpQuality)
	logging.Info("  REENCODE_QUALITY:      %d", reencodeQuality)
	logging.Info("  MAX_IMAGE_DIMENSION:   %d", maxDimension)
	logging.Info("  CONVERSION_TIMEOUT:    %v", conversionTimeout)
	logging.Info("  PRESERVE_ORIGINALS:    %v", preserveOriginals)
	logging.Info("  MAX_RETRY_ATTEMPTS:    %d", maxRetryAttempts)
	logging.Info("  BATCH_SIZE:            %d", batchSize)
	logging.Info("  BATCH_INTERVAL:        %v", batchInterval)
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())

	if minSavingsPct < 0 || minSavingsPct > 100 {
		return nil, fmt.Errorf("MIN_SAVINGS_PCT must be between 0 and 100, got %.1f", minSavingsPct)
	}
	for name, q := range map[string]int{"AVIF_QUALITY": avifQuality, "WEBP_QUALITY": webpQuality, "REENCODE_QUALITY": reencodeQuality} {
		if q < 1 || q > 100 {
			return nil, fmt.Errorf("%s must be between 1 and 100, got %d", name, q)
		}
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be at least 1, got %d", batchSize)
	}
	if maxRetryAttempts < 1 {
		return nil, fmt.Errorf("MAX_RETRY_ATTEMPTS must be at least 1, got %d", maxRetryAttempts)
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	mediaDir, err = filepath.Abs(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory path: %w", err)
	}
	logging.Info("  Media directory (absolute): %s", mediaDir)

	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	logging.Info("  Data directory (absolute):  %s", dataDir)

	// Media directory issues are a warning only: the catalog just
	// comes up empty until it appears.
	if err := ensureDirectory(mediaDir, "media"); err != nil {
		logging.Warn("  Media directory issue: %v", err)
	}

	if err := ensureDirectory(dataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}

	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(dataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for conversion records): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	config := &Config{
		MediaDir:           mediaDir,
		DataDir:            dataDir,
		Port:               port,
		MetricsPort:        metricsPort,
		PublicBaseURL:      publicBaseURL,
		MetricsEnabled:     metricsEnabled,
		LogHealthChecks:    logHealthChecks,
		MinSavingsPct:      minSavingsPct,
		MinSourceSizeBytes: minSourceSize,
		AVIFQuality:        avifQuality,
		WebPQuality:        webpQuality,
		ReencodeQuality:    reencodeQuality,
		MaxImageDimension:  maxDimension,
		ConversionTimeout:  conversionTimeout,
		PreserveOriginals:  preserveOriginals,
		MaxRetryAttempts:   maxRetryAttempts,
		BatchSize:          batchSize,
		BatchInterval:      batchInterval,
		StatsInterval:      statsInterval,
		DatabasePath:       filepath.Join(dataDir, "conversions.db"),
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Conversion store: ENABLED (required)")
	logging.Info("    Periodic batches: %s", enabledString(batchInterval > 0))
	logging.Info("    Metrics:          %s", enabledString(metricsEnabled))

	return config, nil
}

// LogConverterInit logs converter initialization and capability state
func LogConverterInit(avif, webp, fallback bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CONVERTER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  AVIF encoding:       %s", enabledString(avif))
	logging.Info("  WebP encoding:       %s", enabledString(webp))
	logging.Info("  FFmpeg rescue:       %s", enabledString(fallback))
	if !avif {
		logging.Warn("  libvips unavailable; AVIF candidates will not be produced")
	}
}

// LogStoreInit logs conversion store initialization
func LogStoreInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CONVERSION STORE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Store initialized in %v", duration)
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			// Route might not have methods specified
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			groupRoutes := groups[group]
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groupRoutes {
				methodPadded := fmt.Sprintf("%-6s", route.Method)
				logging.Debug("    %s %s", methodPadded, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return ""
	}

	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}
