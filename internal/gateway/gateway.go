package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// Errors surfaced by the gateway.
var (
	ErrQuotaExceeded      = errors.New("gateway: instance quota exceeded")
	ErrNoCredential       = errors.New("gateway: instance has no llm credential")
	ErrAllProvidersFailed = errors.New("gateway: all providers failed")
)

// quotaTierParam names the instance parameter selecting the quota tier.
const quotaTierParam = "quota_tier"

// UsageStore records one row per model-call attempt.
type UsageStore interface {
	RecordLLMRequest(ctx context.Context, rec *store.LLMRequest) error
}

// Config holds gateway tuning.
type Config struct {
	CacheTTL         time.Duration
	DefaultMaxTokens int // budget cap applied when the request sets none
}

// Gateway routes model calls through quota, cache and the provider
// fallback chain.
type Gateway struct {
	providers []Provider
	cache     Cache
	limiter   *Limiter
	keys      KeySource
	usage     UsageStore
	config    Config
	logger    *slog.Logger
}

func New(providers []Provider, cache Cache, limiter *Limiter, keys KeySource, usage UsageStore, config Config, logger *slog.Logger) *Gateway {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 15 * time.Minute
	}
	if config.DefaultMaxTokens <= 0 {
		config.DefaultMaxTokens = 1024
	}
	return &Gateway{
		providers: providers,
		cache:     cache,
		limiter:   limiter,
		keys:      keys,
		usage:     usage,
		config:    config,
		logger:    logger,
	}
}

// Complete answers a prompt for an instance. Order of checks matters:
// cache hits cost no quota, and quota rejections never reach an
// upstream. Every attempt lands in the usage trail either way.
func (g *Gateway) Complete(ctx context.Context, inst *store.ClusterInstance, userID uuid.UUID, req *Request) (*Response, error) {
	req.InstanceID = inst.ID
	req.UserID = userID
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.config.DefaultMaxTokens
	}

	cacheKey := CacheKey(inst.ID, req.Model, req.Messages)
	promptHash := hashSuffix(cacheKey)

	if cached, hit, err := g.cache.Get(ctx, cacheKey); err != nil {
		g.logger.WarnContext(ctx, "cache read failed", "error", err)
	} else if hit {
		var resp Response
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			resp.Cached = true
			g.record(ctx, inst.ID, userID, resp.Provider, promptHash, 0, 0, 0, store.LLMStatusCacheHit)
			return &resp, nil
		}
		g.logger.WarnContext(ctx, "dropping undecodable cache entry", "key", cacheKey)
	}

	tier := inst.Params[quotaTierParam]
	if !g.limiter.Allow(inst.ID, tier) {
		g.record(ctx, inst.ID, userID, "", promptHash, 0, 0, 0, store.LLMStatusQuotaExceeded)
		return nil, ErrQuotaExceeded
	}

	apiKey, err := g.keys.APIKey(ctx, inst)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, provider := range g.providers {
		resp, err := provider.Complete(ctx, apiKey, req)
		if err != nil {
			lastErr = err
			g.record(ctx, inst.ID, userID, provider.Name(), promptHash, 0, 0, 0, store.LLMStatusFailed)
			g.logger.WarnContext(ctx, "provider failed, trying next",
				"provider", provider.Name(), "instance_id", inst.ID, "error", err)
			continue
		}

		g.record(ctx, inst.ID, userID, provider.Name(), promptHash,
			resp.TokensIn, resp.TokensOut, resp.Cost, store.LLMStatusSucceeded)

		if encoded, err := json.Marshal(resp); err == nil {
			if err := g.cache.Set(ctx, cacheKey, string(encoded), g.config.CacheTTL); err != nil {
				g.logger.WarnContext(ctx, "cache write failed", "error", err)
			}
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

func (g *Gateway) record(ctx context.Context, instanceID, userID uuid.UUID, provider, promptHash string, tokensIn, tokensOut int, cost float64, status string) {
	err := g.usage.RecordLLMRequest(ctx, &store.LLMRequest{
		InstanceID: instanceID,
		UserID:     userID,
		Provider:   provider,
		PromptHash: promptHash,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		Cost:       cost,
		Status:     status,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to record llm request",
			"instance_id", instanceID, "status", status, "error", err)
	}
}

// hashSuffix shortens the cache key to the bare prompt hash for the
// usage row.
func hashSuffix(cacheKey string) string {
	const prefix = "llm:"
	if len(cacheKey) > len(prefix) {
		return cacheKey[len(prefix):]
	}
	sum := sha256.Sum256([]byte(cacheKey))
	return hex.EncodeToString(sum[:])
}
