// Package config handles environment variable loading for ports,
// database strings, keys, quotas, etc.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// QuotaTier is one rate-limit class for LLM calls. Rate is requests
// per second; Burst is the bucket size.
type QuotaTier struct {
	Rate  float64
	Burst int
}

// ProviderEndpoint is one LLM backend in fallback order.
type ProviderEndpoint struct {
	Name    string
	BaseURL string
}

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Redis address for the gateway cache; empty falls back to the
	// in-process cache
	RedisAddr string

	// OTLP collector endpoint for traces; empty disables export
	OTELEndpoint string

	// Scheduler configuration
	SchedulerConcurrency  int
	SchedulerPollInterval time.Duration
	LeaseTimeout          time.Duration
	MaxAttempts           int
	BackoffBase           time.Duration
	ExpirySweepInterval   time.Duration

	// Vault keys, versioned. Sealing uses ActiveKeyVersion.
	VaultKeys        map[int][]byte
	ActiveKeyVersion int

	// LLM provider chain, tried in order until one succeeds
	Providers     []ProviderEndpoint
	ProviderModel string
	CostPerToken  float64
	CacheTTL      time.Duration

	// Quota tiers keyed by the instance's quota_tier param; instances
	// on an unknown tier fall back to DefaultQuotaTier
	QuotaTiers       map[string]QuotaTier
	DefaultQuotaTier string

	// Telegram bot token for the notification channel
	TelegramToken string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbUrl := os.Getenv("DATABASE_URL")
	if dbUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := intEnv("PORT", 6161)
	if err != nil {
		return nil, err
	}

	concurrency, err := intEnv("SCHEDULER_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("SCHEDULER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}

	leaseTimeout, err := durationEnv("LEASE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	maxAttempts, err := intEnv("MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	backoffBase, err := durationEnv("BACKOFF_BASE", 10*time.Second)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := durationEnv("EXPIRY_SWEEP_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := durationEnv("LLM_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	keys, err := parseVaultKeys(os.Getenv("VAULT_KEYS"))
	if err != nil {
		return nil, err
	}

	activeVersion, err := intEnv("VAULT_ACTIVE_KEY_VERSION", highestVersion(keys))
	if err != nil {
		return nil, err
	}

	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "sonar"
	}

	providers, err := parseProviders(os.Getenv("LLM_PROVIDERS"))
	if err != nil {
		return nil, err
	}

	costPerToken, err := floatEnv("LLM_COST_PER_TOKEN", 0.000001)
	if err != nil {
		return nil, err
	}

	tiers, err := parseQuotaTiers(os.Getenv("QUOTA_TIERS"))
	if err != nil {
		return nil, err
	}

	defaultTier := os.Getenv("QUOTA_DEFAULT_TIER")
	if defaultTier == "" {
		defaultTier = "free"
	}
	if _, ok := tiers[defaultTier]; !ok {
		return nil, fmt.Errorf("QUOTA_DEFAULT_TIER %q is not in QUOTA_TIERS", defaultTier)
	}

	return &Config{
		DatabaseURL:           dbUrl,
		HTTPPort:              port,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		OTELEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SchedulerConcurrency:  concurrency,
		SchedulerPollInterval: pollInterval,
		LeaseTimeout:          leaseTimeout,
		MaxAttempts:           maxAttempts,
		BackoffBase:           backoffBase,
		ExpirySweepInterval:   sweepInterval,
		VaultKeys:             keys,
		ActiveKeyVersion:      activeVersion,
		Providers:             providers,
		ProviderModel:         model,
		CostPerToken:          costPerToken,
		CacheTTL:              cacheTTL,
		QuotaTiers:            tiers,
		DefaultQuotaTier:      defaultTier,
		TelegramToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
	}, nil
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func floatEnv(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

// parseQuotaTiers parses "free:1/60:5,pro:1/6:30" into named tiers.
// The rate is requests per second, written as a decimal or an a/b
// fraction; the last field is the burst. Empty input yields the
// built-in free/pro table.
func parseQuotaTiers(raw string) (map[string]QuotaTier, error) {
	if raw == "" {
		raw = "free:1/60:5,pro:1/6:30"
	}
	tiers := make(map[string]QuotaTier)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid QUOTA_TIERS entry %q, want name:rate:burst", entry)
		}
		rate, err := parseRate(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid QUOTA_TIERS rate for %q: %w", parts[0], err)
		}
		burst, err := strconv.Atoi(parts[2])
		if err != nil || burst <= 0 {
			return nil, fmt.Errorf("invalid QUOTA_TIERS burst for %q: %q", parts[0], parts[2])
		}
		tiers[parts[0]] = QuotaTier{Rate: rate, Burst: burst}
	}
	return tiers, nil
}

// parseRate accepts "0.5" or a fraction like "1/60".
func parseRate(s string) (float64, error) {
	if num, den, found := strings.Cut(s, "/"); found {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, fmt.Errorf("zero denominator in %q", s)
		}
		return n / d, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseProviders parses "perplexity=https://api.perplexity.ai,local=http://llm:8080"
// into an ordered fallback chain. Empty input means no providers; the
// gateway then serves cache hits only.
func parseProviders(raw string) ([]ProviderEndpoint, error) {
	if raw == "" {
		return nil, nil
	}
	var providers []ProviderEndpoint
	for _, entry := range strings.Split(raw, ",") {
		name, baseURL, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found || name == "" || baseURL == "" {
			return nil, fmt.Errorf("invalid LLM_PROVIDERS entry %q, want name=url", entry)
		}
		providers = append(providers, ProviderEndpoint{Name: name, BaseURL: baseURL})
	}
	return providers, nil
}

// parseVaultKeys parses "1:<hex>,2:<hex>" into versioned 32-byte keys.
func parseVaultKeys(raw string) (map[int][]byte, error) {
	keys := make(map[int][]byte)
	if raw == "" {
		return keys, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		version, hexKey, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found {
			return nil, fmt.Errorf("invalid VAULT_KEYS entry %q, want version:hexkey", pair)
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("invalid VAULT_KEYS version %q: %w", version, err)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid VAULT_KEYS key for version %d: %w", v, err)
		}
		keys[v] = key
	}
	return keys, nil
}

func highestVersion(keys map[int][]byte) int {
	max := 0
	for v := range keys {
		if v > max {
			max = v
		}
	}
	return max
}
