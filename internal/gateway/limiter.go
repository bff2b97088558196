package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Tier is a quota level: how fast an instance's token bucket refills
// and how many requests it may burst.
type Tier struct {
	Rate  rate.Limit
	Burst int
}

// Limiter holds one token bucket per instance. Buckets are created
// lazily and evicted after idleTTL so terminated instances do not pin
// memory.
type Limiter struct {
	tiers       map[string]Tier
	defaultTier Tier
	limiters    sync.Map // uuid.UUID -> *cachedLimiter
	idleTTL     time.Duration
}

type cachedLimiter struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

func NewLimiter(tiers map[string]Tier, defaultTier Tier) *Limiter {
	return &Limiter{
		tiers:       tiers,
		defaultTier: defaultTier,
		idleTTL:     10 * time.Minute,
	}
}

// Allow consumes one token from the instance's bucket. Each model call
// costs exactly one token regardless of size; the per-call budget cap
// is enforced separately via MaxTokens.
func (l *Limiter) Allow(instanceID uuid.UUID, tierName string) bool {
	tier, ok := l.tiers[tierName]
	if !ok {
		tier = l.defaultTier
	}

	val, ok := l.limiters.Load(instanceID)
	if !ok {
		val, _ = l.limiters.LoadOrStore(instanceID, &cachedLimiter{
			limiter: rate.NewLimiter(tier.Rate, tier.Burst),
		})
	}

	cached := val.(*cachedLimiter)
	cached.mu.Lock()
	cached.lastAccess = time.Now()
	cached.mu.Unlock()

	return cached.limiter.Allow()
}

// RunCleanup evicts buckets idle longer than the TTL until the context
// is cancelled.
func (l *Limiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idleTTL)
			l.limiters.Range(func(key, value interface{}) bool {
				cached := value.(*cachedLimiter)
				cached.mu.Lock()
				idle := cached.lastAccess.Before(cutoff)
				cached.mu.Unlock()
				if idle {
					l.limiters.Delete(key)
				}
				return true
			})
		}
	}
}
