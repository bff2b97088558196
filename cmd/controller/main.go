// Package main is the entry point for the clusterplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clusterplane/internal/config"
	"clusterplane/internal/controller"
	"clusterplane/internal/entitlement"
	"clusterplane/internal/gateway"
	"clusterplane/internal/logger"
	"clusterplane/internal/observability"
	"clusterplane/internal/store/postgres"
	"clusterplane/internal/vault"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	// Load Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	// Setup Database
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(db.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "clusterplane-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
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

	// Use an Observable Gauge (Async) that queries the DB only when scraped.
	meter := otel.Meter("clusterplane-controller")
	_, err = meter.Int64ObservableGauge("clusterplane.jobs.pending",
		metric.WithDescription("Current number of pending jobs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := db.CountPending(ctx)
			if err != nil {
				log.Printf("Failed to count pending jobs: %v", err)
				return nil // Don't crash metrics scrape on DB error
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register pending jobs metric: %v", err)
	}

	// Vault
	if len(cfg.VaultKeys) == 0 {
		log.Fatal("VAULT_KEYS is required")
	}
	keyring, err := vault.NewKeyring(cfg.VaultKeys, cfg.ActiveKeyVersion)
	if err != nil {
		log.Fatalf("Failed to build keyring: %v", err)
	}
	credVault := vault.New(db, keyring, slogger)

	// Entitlements
	manager := entitlement.New(db, slogger)

	// Gateway: redis-backed cache when configured, else in-process
	var cache gateway.Cache = gateway.NewMemoryCache()
	if cfg.RedisAddr != "" {
		cache = gateway.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}
	tiers := quotaTiers(cfg)
	limiter := gateway.NewLimiter(tiers, tiers[cfg.DefaultQuotaTier])

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go limiter.RunCleanup(cleanupCtx)

	var providers []gateway.Provider
	for _, p := range cfg.Providers {
		providers = append(providers,
			gateway.NewHTTPProvider(p.Name, p.BaseURL, cfg.ProviderModel, cfg.CostPerToken))
	}
	gw := gateway.New(providers, cache, limiter, gateway.NewVaultKeySource(credVault), db,
		gateway.Config{CacheTTL: cfg.CacheTTL}, slogger)

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, db, controller.Options{
		Manager:        manager,
		Vault:          credVault,
		Gateway:        gw,
		MetricsHandler: metricsHandler,
		RateLimit:      10,
		RateLimitBurst: 20,
	})

	go func() {
		log.Printf("Clusterplane Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}

// quotaTiers converts the configured tier table into limiter tiers.
func quotaTiers(cfg *config.Config) map[string]gateway.Tier {
	tiers := make(map[string]gateway.Tier, len(cfg.QuotaTiers))
	for name, t := range cfg.QuotaTiers {
		tiers[name] = gateway.Tier{Rate: rate.Limit(t.Rate), Burst: t.Burst}
	}
	return tiers
}
