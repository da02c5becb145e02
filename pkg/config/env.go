package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Env holds process-level settings read from environment variables.
// Database settings live in pkg/database; this covers everything else.
type Env struct {
	HTTPPort string

	// APIKey authenticates mutating REST endpoints (X-API-Key header).
	APIKey string

	// AdminToken authorizes force-sync and other operator-only actions.
	AdminToken string

	// LLM proxy (OpenAI-compatible endpoint).
	ProxyURL string
	ProxyKey string

	// Directories.
	ConfigDir string
	KernelDir string

	// Runtime tuning.
	LLMWorkers       int           // bound on concurrent LLM calls
	MaxToolRounds    int           // tool loop bound per turn
	MaxContentBytes  int           // user message size cap
	BreakerThreshold int           // consecutive failures before opening
	BreakerReset     time.Duration // open interval before half-open probe
}

// LoadEnv reads and validates process settings from the environment.
func LoadEnv() (*Env, error) {
	e := &Env{
		HTTPPort:         envOr("HTTP_PORT", "8080"),
		APIKey:           os.Getenv("ARIA_API_KEY"),
		AdminToken:       os.Getenv("ARIA_ADMIN_TOKEN"),
		ProxyURL:         envOr("LLM_PROXY_URL", "http://localhost:4000/v1"),
		ProxyKey:         os.Getenv("LLM_PROXY_KEY"),
		ConfigDir:        envOr("CONFIG_DIR", "./config"),
		KernelDir:        envOr("KERNEL_DIR", "./config/kernel"),
		LLMWorkers:       envIntOr("LLM_WORKERS", 32),
		MaxToolRounds:    envIntOr("MAX_TOOL_ROUNDS", 6),
		MaxContentBytes:  envIntOr("MAX_CONTENT_BYTES", 64*1024),
		BreakerThreshold: envIntOr("BREAKER_THRESHOLD", 5),
		BreakerReset:     envDurationOr("BREAKER_RESET", 60*time.Second),
	}

	if e.ProxyURL == "" {
		return nil, fmt.Errorf("LLM_PROXY_URL must not be empty")
	}
	if e.LLMWorkers < 1 {
		return nil, fmt.Errorf("LLM_WORKERS must be >= 1, got %d", e.LLMWorkers)
	}
	if e.MaxToolRounds < 1 {
		return nil, fmt.Errorf("MAX_TOOL_ROUNDS must be >= 1, got %d", e.MaxToolRounds)
	}
	return e, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
