// Package main is the entry point for the clusterplane scheduler.
// The scheduler is the agent that executes jobs: it claims due work,
// runs the registered handlers, and sweeps expired instances and
// abandoned leases.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clusterplane/internal/config"
	"clusterplane/internal/entitlement"
	"clusterplane/internal/gateway"
	"clusterplane/internal/logger"
	"clusterplane/internal/notify"
	"clusterplane/internal/observability"
	"clusterplane/internal/scheduler"
	"clusterplane/internal/store/postgres"
	"clusterplane/internal/summary"
	"clusterplane/internal/vault"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "clusterplane-scheduler", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Vault
	if len(cfg.VaultKeys) == 0 {
		log.Fatal("VAULT_KEYS is required")
	}
	keyring, err := vault.NewKeyring(cfg.VaultKeys, cfg.ActiveKeyVersion)
	if err != nil {
		log.Fatalf("Failed to build keyring: %v", err)
	}
	credVault := vault.New(db, keyring, slogger)

	manager := entitlement.New(db, slogger)

	// Gateway, same wiring as the controller so summary jobs share the
	// cache and quota accounting.
	var cache gateway.Cache = gateway.NewMemoryCache()
	if cfg.RedisAddr != "" {
		cache = gateway.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}
	tiers := quotaTiers(cfg)
	limiter := gateway.NewLimiter(tiers, tiers[cfg.DefaultQuotaTier])
	go limiter.RunCleanup(ctx)

	var providers []gateway.Provider
	for _, p := range cfg.Providers {
		providers = append(providers,
			gateway.NewHTTPProvider(p.Name, p.BaseURL, cfg.ProviderModel, cfg.CostPerToken))
	}
	gw := gateway.New(providers, cache, limiter, gateway.NewVaultKeySource(credVault), db,
		gateway.Config{CacheTTL: cfg.CacheTTL}, slogger)

	// Notifications
	dispatcher := notify.NewDispatcher(db, notify.Config{}, slogger)
	if cfg.TelegramToken != "" {
		dispatcher.RegisterChannel(notify.NewTelegramChannel(cfg.TelegramToken, ""))
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, telegram deliveries will fail")
	}

	// Job handlers
	registry := scheduler.NewRegistry()
	registry.Register(notify.JobType, notify.JobHandler(dispatcher))
	registry.Register(summary.JobType, summary.Handler(db, gw, dispatcher))

	hostname, _ := os.Hostname()
	sched := scheduler.New(db, registry, scheduler.Config{
		ID:           fmt.Sprintf("scheduler-%s-%d", hostname, os.Getpid()),
		Concurrency:  cfg.SchedulerConcurrency,
		PollInterval: cfg.SchedulerPollInterval,
		LeaseTimeout: cfg.LeaseTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		BackoffBase:  cfg.BackoffBase,
	}, slogger)

	log.Printf("Scheduler started with concurrency %d", cfg.SchedulerConcurrency)
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Printf("Scheduler stopped: %v", err)
		}
	}()
	go func() {
		if err := sched.RunReclaim(ctx, cfg.LeaseTimeout/2); err != nil {
			log.Printf("Lease reclaimer stopped: %v", err)
		}
	}()
	go func() {
		if err := manager.RunExpiry(ctx, cfg.ExpirySweepInterval); err != nil {
			log.Printf("Expiry sweeper stopped: %v", err)
		}
	}()

	// Re-encryption drains slowly in the background after a key rotation.
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := credVault.ReencryptSweep(ctx, 100); err != nil {
					log.Printf("Re-encrypt sweep failed: %v", err)
				}
			}
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Scheduler metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down scheduler...")
	cancel()

	<-sched.Done()
}

// quotaTiers converts the configured tier table into limiter tiers.
func quotaTiers(cfg *config.Config) map[string]gateway.Tier {
	tiers := make(map[string]gateway.Tier, len(cfg.QuotaTiers))
	for name, t := range cfg.QuotaTiers {
		tiers[name] = gateway.Tier{Rate: rate.Limit(t.Rate), Burst: t.Burst}
	}
	return tiers
}
