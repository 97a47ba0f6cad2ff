package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL string

	// Source acquisition.
	SourcesFile  string
	RawDir       string
	ConvertedDir string
	FetchTimeout time.Duration
	FetchRetries int
	TTLs         domain.TTLs

	// Cache budgets.
	CacheMaxBytes      int64
	CacheMaxEntries    int
	CacheMemoryEntries int

	// Scheduling.
	RunInterval    time.Duration
	JobConcurrency int

	Municipality domain.Municipality

	// Change feed; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	Sources []Source
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		DatabaseURL:     sharedcfg.EnvOrDefault("DATABASE_URL", "sqlite://data/indicators.db"),
		SourcesFile:     os.Getenv("SOURCES_FILE"),
		RawDir:          sharedcfg.EnvOrDefault("RAW_DIR", "data/raw"),
		ConvertedDir:    sharedcfg.EnvOrDefault("CONVERTED_DIR", "data/raw/converted"),
		Municipality: domain.Municipality{
			Code: sharedcfg.EnvOrDefault("MUNICIPALITY_CODE", "3127701"),
			Name: sharedcfg.EnvOrDefault("MUNICIPALITY_NAME", "Governador Valadares"),
			UF:   sharedcfg.EnvOrDefault("MUNICIPALITY_UF", "MG"),
		},
		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "indicator-observations"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.FetchTimeout, err = parseDuration("FETCH_TIMEOUT", 30*time.Second, false)
	collect(err)
	cfg.RunInterval, err = parseDuration("RUN_INTERVAL", 24*time.Hour, true)
	collect(err)
	cfg.FetchRetries, err = parseInt("FETCH_RETRIES", 0, 0, 1)
	collect(err)
	cfg.JobConcurrency, err = parseInt("JOB_CONCURRENCY", 4, 1, 64)
	collect(err)
	cfg.CacheMaxEntries, err = parseInt("CACHE_MAX_ENTRIES", 1000, 1, 1<<30)
	collect(err)
	cfg.CacheMemoryEntries, err = parseInt("CACHE_MEMORY_ENTRIES", 100, 0, 1<<20)
	collect(err)
	maxBytes, err := parseInt("CACHE_MAX_BYTES", 100<<20, 1, math.MaxInt)
	collect(err)
	cfg.CacheMaxBytes = int64(maxBytes)

	cfg.TTLs = domain.DefaultTTLs()
	for tier, name := range map[domain.Tier]string{
		domain.TierAPIPrimary:    "TTL_API_PRIMARY",
		domain.TierAPISecondary:  "TTL_API_SECONDARY",
		domain.TierCSVFallback:   "TTL_CSV_FALLBACK",
		domain.TierConvertedFile: "TTL_CONVERTED_FILE",
	} {
		d, err := parseDuration(name, cfg.TTLs[tier], false)
		collect(err)
		cfg.TTLs[tier] = d
	}

	if cfg.Municipality.Code == "" {
		collect(errors.New("MUNICIPALITY_CODE is required"))
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		collect(errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.Sources, err = LoadSources(cfg.SourcesFile, cfg.Municipality.Code)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether the change feed should be started.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseDuration(name string, def time.Duration, allowZero bool) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", name, s)
	}
	return d, nil
}

func parseInt(name string, def, minimum, maximum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum || n > maximum {
		return 0, fmt.Errorf("invalid %s: %q (want %d..%d)", name, s, minimum, maximum)
	}
	return n, nil
}
