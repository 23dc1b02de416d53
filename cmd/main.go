/**
 * @description
 * This is the main entry point for the launchpad-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Scheduler for the window reconciler.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/stakeclient, pkg/marketclient: Clients for the external yield sources.
 * - pkg/rabbitmq: Client for RabbitMQ.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/fundstream/launchpad-service/internal/api"
	"github.com/fundstream/launchpad-service/internal/app"
	"github.com/fundstream/launchpad-service/internal/config"
	"github.com/fundstream/launchpad-service/internal/store"
	"github.com/fundstream/launchpad-service/pkg/marketclient"
	rmrabbit "github.com/fundstream/launchpad-service/pkg/rabbitmq"
	"github.com/fundstream/launchpad-service/pkg/stakeclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.CapabilityJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"capability jwt secret must be configured\" env=CAPABILITY_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting launchpad-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing follows the busiest mint windows rather than steady state.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. A broker
	// outage at startup degrades to the no-op fallback rather than aborting.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the clients for the external yield sources.
	stakeClient := stakeclient.NewClient(cfg.StakeAPIBaseURL, cfg.StakeAPIKey)
	marketClient := marketclient.NewClient(cfg.MarketAPIBaseURL, cfg.MarketAPIKey)

	var redisClient *redis.Client
	if cfg.MintRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; mint rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; mint rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; mint rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	launchpadService := app.NewService(
		repository,
		stakeClient,
		marketClient,
		producer,
		cfg.StakeTarget,
		cfg.DeployFeeAmount,
	)
	if redisClient != nil {
		launchpadService.SetMintRateLimiter(
			app.NewRedisMintRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.MintRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	launchpadHandlers := api.NewLaunchpadHandlers(launchpadService, cfg.RecoveryKey)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/launchpad", api.LaunchpadRoutes(launchpadHandlers, cfg.CapabilityJWTSecret, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the treasury settlement consumer.
	deployFeeConsumer := app.NewDeployFeeConsumer(launchpadService)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; deploy fee settlement disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"treasury.deploy_fee.settled": deployFeeConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.LaunchpadExchange, cfg.DeployFeeEventQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"deploy fee consumer start failed\" err=%v", err)
		}
	}

	// Schedule the vesting window reconciler.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileIntervalCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := launchpadService.ReconcileElapsedCampaigns(ctx); err != nil {
			log.Printf("level=error component=reconciler msg=\"reconcile run failed\" err=%v", err)
		}
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconciler schedule invalid\" schedule=%q err=%v", cfg.ReconcileIntervalCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
