package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is built once in Load and passed into every constructor. Nothing in
// the engine reads configuration from process-global state.
type Config struct {
	DBPath    string
	LogLevel  string
	LogFormat string

	// Matching ratio gates. Tier base confidences are fixed in the matcher;
	// these only control where the fuzzy/training tiers cut off.
	TrainingRatioFloor float64
	FuzzyHighRatio     float64
	FuzzyMedRatio      float64
	FuzzyLowRatio      float64

	// Catalog snapshot cache.
	CatalogCacheTTL time.Duration

	// Session lifecycle.
	SessionDefaultTimeout   time.Duration
	SessionExtensionTimeout time.Duration
	SweepInterval           time.Duration

	// Continuation / consolidation windows.
	ContinuationLookback time.Duration
	FrequencyWindow      time.Duration

	// Engine batch processing.
	ProcessBatch int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "orders.db")),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		TrainingRatioFloor: getEnvFloat("MATCH_TRAINING_RATIO_FLOOR", 0.70),
		FuzzyHighRatio:     getEnvFloat("MATCH_FUZZY_HIGH_RATIO", 0.85),
		FuzzyMedRatio:      getEnvFloat("MATCH_FUZZY_MED_RATIO", 0.65),
		FuzzyLowRatio:      getEnvFloat("MATCH_FUZZY_LOW_RATIO", 0.45),

		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL_SEC", 30*time.Second),

		SessionDefaultTimeout:   getEnvDuration("SESSION_TIMEOUT_MIN", 30*time.Minute),
		SessionExtensionTimeout: getEnvDuration("SESSION_EXTENSION_MIN", 5*time.Minute),
		SweepInterval:           getEnvDuration("SESSION_SWEEP_INTERVAL_SEC", 60*time.Second),

		ContinuationLookback: getEnvDuration("CONTINUATION_LOOKBACK_MIN", 10*time.Minute),
		FrequencyWindow:      getEnvDuration("FREQUENCY_WINDOW_MIN", 10*time.Minute),

		ProcessBatch: getEnvInt("ENGINE_PROCESS_BATCH", 20),
	}

	return cfg, nil
}

// InitLogger builds the global zap logger from the log settings.
func InitLogger(cfg Config) error {
	var zapCfg zap.Config
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads an integer env var whose unit is encoded in the key
// suffix (_SEC or _MIN) and falls back when unset or unparsable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if strings.HasSuffix(key, "_MIN") {
		return time.Duration(parsed) * time.Minute
	}
	return time.Duration(parsed) * time.Second
}
