package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the sale indexer service.
type Config struct {
	Port           string
	DatabaseURL    string
	NodeRPCURL     string
	NodeRPCToken   string
	NodeTimeout    time.Duration
	PollInterval   time.Duration
	PageSize       int
	ReconOutputDir string
	ReconRunHour   int
	ReconRunMinute int
	ReconDryRun    bool
	ReconWindow    time.Duration
	TZ             *time.Location
}

// FromEnv loads configuration from environment variables required by the service.
func FromEnv() (*Config, error) {
	port := getEnvDefault("SALEINDEXER_PORT", "8091")
	dbURL := os.Getenv("SALEINDEXER_DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("SALEINDEXER_DB_URL is required")
	}

	nodeURL := os.Getenv("SALEINDEXER_NODE_RPC_URL")
	if nodeURL == "" {
		return nil, fmt.Errorf("SALEINDEXER_NODE_RPC_URL is required")
	}
	nodeToken := strings.TrimSpace(os.Getenv("SALEINDEXER_NODE_RPC_TOKEN"))
	if nodeToken == "" {
		return nil, fmt.Errorf("SALEINDEXER_NODE_RPC_TOKEN is required")
	}

	timeoutSeconds := getEnvDefault("SALEINDEXER_NODE_TIMEOUT_SECONDS", "15")
	timeoutValue, err := strconv.Atoi(timeoutSeconds)
	if err != nil || timeoutValue <= 0 {
		return nil, fmt.Errorf("invalid SALEINDEXER_NODE_TIMEOUT_SECONDS %q", timeoutSeconds)
	}

	pollSeconds := getEnvDefault("SALEINDEXER_POLL_INTERVAL_SECONDS", "15")
	poll, err := strconv.Atoi(pollSeconds)
	if err != nil || poll <= 0 {
		return nil, fmt.Errorf("invalid SALEINDEXER_POLL_INTERVAL_SECONDS %q", pollSeconds)
	}

	pageSize := parseIntEnv("SALEINDEXER_PAGE_SIZE", 200)
	if pageSize <= 0 {
		pageSize = 200
	}

	tzName := getEnvDefault("SALEINDEXER_TZ", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid SALEINDEXER_TZ %q: %w", tzName, err)
	}

	reconDir := getEnvDefault("SALEINDEXER_RECON_OUTPUT_DIR", "crowdsale-data/recon")
	reconHour := parseIntEnv("SALEINDEXER_RECON_RUN_HOUR", 1)
	reconMinute := parseIntEnv("SALEINDEXER_RECON_RUN_MINUTE", 5)
	reconDryRun := parseBoolEnv("SALEINDEXER_RECON_DRY_RUN", false)
	windowHours := parseIntEnv("SALEINDEXER_RECON_WINDOW_HOURS", 24)

	return &Config{
		Port:           normalizePort(port),
		DatabaseURL:    dbURL,
		NodeRPCURL:     nodeURL,
		NodeRPCToken:   nodeToken,
		NodeTimeout:    time.Duration(timeoutValue) * time.Second,
		PollInterval:   time.Duration(poll) * time.Second,
		PageSize:       pageSize,
		ReconOutputDir: reconDir,
		ReconRunHour:   reconHour,
		ReconRunMinute: reconMinute,
		ReconDryRun:    reconDryRun,
		ReconWindow:    time.Duration(windowHours) * time.Hour,
		TZ:             tz,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8091"
	}
	if _, err := strconv.Atoi(port); err == nil {
		return port
	}
	// Allow values like ":8091".
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}
