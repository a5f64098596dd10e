/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the user directory, message broker, repositories, the ledger engine, the history
 * reporter, the balance reconciler and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiting and user lookup cache.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 * - pkg/userclient: Client for the user service.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuz/ledger-service/internal/api"
	"github.com/cuz/ledger-service/internal/app"
	"github.com/cuz/ledger-service/internal/config"
	"github.com/cuz/ledger-service/internal/store"
	rmrabbit "github.com/cuz/ledger-service/pkg/rabbitmq"
	"github.com/cuz/ledger-service/pkg/userclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"operator auth secret missing; operator routes will reject every request\" env=AUTH_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = int32(cfg.DatabaseMaxConns)
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.DBAutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.EnsureSchema(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"schema ensured\"")
	}

	// Ledger events are best effort; without a broker the fallback drops them.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; ledger events disabled\" env=RABBITMQ_URL")
	} else {
		rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		} else {
			defer rabbitProducer.Close()
			publisher = rabbitProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting and user cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting and user cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting and user cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	repository := store.NewPostgresRepository(dbpool)

	// Holders come from the user service when configured, otherwise from the local users table.
	var directory app.UserDirectory = repository
	if cfg.UserServiceURL != "" {
		directory = userclient.NewClient(cfg.UserServiceURL, cfg.UserServiceInternalAPIKey, cfg.DirectoryTimeout)
		log.Printf("level=info component=bootstrap msg=\"using user service for holder lookups\" url=%s", cfg.UserServiceURL)
	}
	var rateLimiter app.RateLimiter
	if redisClient != nil {
		directory = app.NewCachedUserDirectory(directory, redisClient, cfg.RedisUserCachePrefix, cfg.UserCacheTTL)
		rateLimiter = app.NewRedisRateLimiter(redisClient, app.RateLimitConfig{
			Prefix: cfg.RedisRateLimitPrefix,
			Window: time.Minute,
			Limits: map[string]int{
				app.DepositScope:  cfg.DepositRateLimitPerMinute,
				app.TransferScope: cfg.TransferRateLimitPerMinute,
			},
		})
	}

	ledger := app.NewLedger(repository, directory, publisher, app.LedgerOptions{
		EventsExchange:   cfg.LedgerEventsExchange,
		OperationTimeout: cfg.LedgerOperationTimeout,
		DirectoryTimeout: cfg.DirectoryTimeout,
	})
	history := app.NewHistoryReporter(repository, directory, cfg.DirectoryTimeout)
	accounts := app.NewAccountOpener(repository, directory, cfg.DirectoryTimeout, cfg.AccountNumberMaxAttempts)

	reconciler := app.NewReconciler(repository, cfg.ReconcileSchedule)
	if err := reconciler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconciler start failed\" schedule=%q err=%v", cfg.ReconcileSchedule, err)
	}

	router := api.LedgerRoutes(api.NewLedgerHandlers(ledger, history, accounts), api.RouterConfig{
		Auth: api.OperatorAuthConfig{
			Secret:   cfg.AuthJWTSecret,
			Issuer:   cfg.AuthJWTIssuer,
			Audience: cfg.AuthJWTAudience,
		},
		InternalAPIKey: cfg.InternalAPIKey,
		RateLimiter:    rateLimiter,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-reconciler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=reconciler msg=\"reconciliation still running at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
