package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cardscan/pkg/notify"
	"cardscan/pkg/scan"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	Addr string

	// Frame source: "dir" watches Dir, "webcam" opens Device.
	Source string
	Dir    string
	Device int

	// OCR engine: "tesseract", "barcode" or "cascade".
	Engine   string
	Language string

	Tick        time.Duration
	SampleEvery int
	Cooldown    time.Duration
	SuccessHold time.Duration
	LoadTimeout time.Duration
	DiagLimit   int

	JWTSecret string

	RedisURL     string
	RedisChannel string
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Addr:         getEnvOrDefault("SCAN_ADDR", ":8081"),
		Source:       getEnvOrDefault("SCAN_SOURCE", "dir"),
		Dir:          getEnvOrDefault("SCAN_DIR", "public/frames"),
		Device:       getEnvAsIntOrDefault("SCAN_DEVICE", 0),
		Engine:       getEnvOrDefault("SCAN_ENGINE", "cascade"),
		Language:     getEnvOrDefault("SCAN_LANG", "eng"),
		Tick:         getEnvAsMillisOrDefault("SCAN_TICK", scan.DefaultTickInterval),
		SampleEvery:  getEnvAsIntOrDefault("SCAN_EVERY", scan.SampleEvery),
		Cooldown:     getEnvAsMillisOrDefault("SCAN_COOLDOWN", scan.DefaultCooldown),
		SuccessHold:  getEnvAsMillisOrDefault("SCAN_HOLD", scan.DefaultSuccessHold),
		LoadTimeout:  getEnvAsMillisOrDefault("SCAN_LOAD_TIMEOUT", scan.DefaultEngineLoadTimeout),
		DiagLimit:    getEnvAsIntOrDefault("SCAN_DIAG_LIMIT", scan.DefaultDiagnosticLimit),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisChannel: getEnvOrDefault("REDIS_CHANNEL", notify.DefaultChannel),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can start a pipeline.
func (c *Config) Validate() error {
	switch c.Source {
	case "dir":
		if c.Dir == "" {
			return fmt.Errorf("SCAN_DIR is required for the dir source")
		}
	case "webcam":
		if c.Device < 0 {
			return fmt.Errorf("SCAN_DEVICE must be >= 0")
		}
	default:
		return fmt.Errorf("unknown SCAN_SOURCE %q (want dir or webcam)", c.Source)
	}
	switch c.Engine {
	case "tesseract", "barcode", "cascade":
	default:
		return fmt.Errorf("unknown SCAN_ENGINE %q (want tesseract, barcode or cascade)", c.Engine)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("SCAN_TICK must be positive")
	}
	if c.SampleEvery < 1 {
		return fmt.Errorf("SCAN_EVERY must be at least 1")
	}
	if c.Cooldown <= 0 || c.SuccessHold <= 0 || c.LoadTimeout <= 0 {
		return fmt.Errorf("SCAN_COOLDOWN, SCAN_HOLD and SCAN_LOAD_TIMEOUT must be positive")
	}
	if c.DiagLimit < 1 {
		return fmt.Errorf("SCAN_DIAG_LIMIT must be at least 1")
	}
	return nil
}

// PipelineConfig converts the service settings to pipeline timings.
func (c *Config) PipelineConfig() scan.Config {
	return scan.Config{
		TickInterval:      c.Tick,
		SampleEvery:       c.SampleEvery,
		Cooldown:          c.Cooldown,
		SuccessHold:       c.SuccessHold,
		EngineLoadTimeout: c.LoadTimeout,
		DiagnosticLimit:   c.DiagLimit,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsMillisOrDefault reads a duration given in milliseconds.
func getEnvAsMillisOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
