package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/postpilot-io/postpilot/internal/analytics"
	"github.com/postpilot-io/postpilot/internal/api"
	"github.com/postpilot-io/postpilot/internal/autopilot"
	"github.com/postpilot-io/postpilot/internal/circuitbreaker"
	"github.com/postpilot-io/postpilot/internal/config"
	"github.com/postpilot-io/postpilot/internal/leaderelection"
	"github.com/postpilot-io/postpilot/internal/lock"
	"github.com/postpilot-io/postpilot/internal/metrics"
	"github.com/postpilot-io/postpilot/internal/publisher"
	"github.com/postpilot-io/postpilot/internal/store/postgres"
	"github.com/postpilot-io/postpilot/internal/sweep"
	"github.com/postpilot-io/postpilot/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`postpilot - autopilot scheduling engine for social content

Usage:
  postpilot <command>

Commands:
  serve      Start the ingest API, scheduler, sweeper, and publisher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for tenant locks and analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  MIN_GAP                   Minimum spacing between posts per tenant (default: "2h")
  LOCK_TTL                  Tenant lock TTL (default: "30s")
  LOCK_WAIT                 How long a trigger waits for a busy lock (default: "2s")

  SWEEP_ENABLED             Enable the periodic sweep (default: "true")
  SWEEP_INTERVAL            Sweep cadence (default: "5m")
  SWEEP_CRON                Cron expression overriding SWEEP_INTERVAL (optional)

  PUBLISH_POLL_INTERVAL     How often due records are polled (default: "15s")
  PUBLISH_BATCH_SIZE        Max due records per poll (default: "50")
  PUBLISH_ENDPOINT          Platform gateway URL (required for publishing)
  PUBLISH_SECRET            HMAC secret for signing publish requests
  PUBLISH_TIMEOUT           Per-request publish timeout (default: "30s")
  PUBLISH_MAX_ATTEMPTS      Attempt budget per record (default: "4")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a platform cools off (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Cool-off duration (default: "2m")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  PUBLISHER_DRAIN_TIMEOUT   Publisher drain timeout (default: "30s")
  TRIGGERBUS_BUFFER_SIZE    Trigger bus buffer size (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "905417")
  LEADER_RETRY_INTERVAL     Follower lock retry cadence (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("postpilot: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("postpilot: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("postpilot: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("postpilot: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("postpilot: METRICS_ENABLED not set; metrics disabled")
	}

	// Tenant locks: Redis when available, in-process otherwise. A single
	// instance is safe with the memory manager; multiple instances need
	// Redis for cross-process mutual exclusion.
	var locks lock.Manager
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		locks = lock.NewRedisManager(redisClient)
		log.Printf("postpilot: redis tenant locks enabled (redis=%s)", cfg.RedisAddr)
	} else {
		locks = lock.NewMemoryManager()
		log.Println("postpilot: REDIS_ADDR not set; using in-process tenant locks")
	}

	// Create trigger bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewTriggerBus(cfg.TriggerBusBufferSize, busOpts...)

	engine := autopilot.New(
		autopilot.Config{
			MinGap:   cfg.MinGap,
			LockTTL:  cfg.LockTTL,
			LockWait: cfg.LockWait,
		},
		locks,
		store,
		store,
		store,
		store,
	)
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}
	if redisClient != nil {
		engine = engine.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("postpilot: analytics enabled (redis=%s)", cfg.RedisAddr)
	}

	pub := publisher.New(
		publisher.Config{
			PollInterval: cfg.PublishPollInterval,
			BatchSize:    cfg.PublishBatchSize,
			Endpoint:     cfg.PublishEndpoint,
			Secret:       cfg.PublishSecret,
			Timeout:      cfg.PublishTimeout,
			MaxAttempts:  cfg.PublishMaxAttempts,
		},
		store,
		publisher.NewHTTPSender(),
	)
	if cfg.CircuitBreakerThreshold > 0 {
		pub = pub.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("postpilot: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if metricsSink != nil {
		pub = pub.WithMetrics(metricsSink)
	}

	// Create API handler with the same store instance
	apiHandler := api.NewHandler(store, bus, engine).WithHealthChecker(db)

	// Start HTTP server with API handler
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("postpilot: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("postpilot: http server error: %v", err)
		}
	}()

	// The trigger worker runs on every instance; the per-tenant lock keeps
	// concurrent batches safe. Sweeper and publisher run only on the leader.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	electorCtx, cancelElector := context.WithCancel(context.Background())

	var workerWg sync.WaitGroup
	var electorWg sync.WaitGroup

	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		runTriggerWorker(workerCtx, bus, engine)
	}()

	var leaderWg sync.WaitGroup

	elector := leaderelection.New(
		db,
		cfg.LeaderLockKey,
		cfg.LeaderRetryInterval,
		cfg.LeaderHeartbeatInterval,
		func(leaderCtx context.Context) {
			if cfg.SweepEnabled {
				sweeper := sweep.New(
					sweep.Config{
						Interval:       cfg.SweepInterval,
						CronExpression: cfg.SweepCron,
					},
					store,
					engine,
				)
				if metricsSink != nil {
					sweeper = sweeper.WithMetrics(metricsSink)
				}
				leaderWg.Add(1)
				go func() {
					defer leaderWg.Done()
					if err := sweeper.Run(leaderCtx); err != nil && err != context.Canceled {
						log.Printf("postpilot: sweeper exited: %v", err)
					}
				}()
			} else {
				log.Println("postpilot: SWEEP_ENABLED=false; sweep disabled")
			}

			if cfg.PublishEndpoint != "" {
				leaderWg.Add(1)
				go func() {
					defer leaderWg.Done()
					pub.Run(leaderCtx)
				}()
			} else {
				log.Println("postpilot: PUBLISH_ENDPOINT not set; publisher disabled")
			}
		},
		func() {
			// Waiting on an empty group is a no-op, so demotion is idempotent.
			leaderWg.Wait()
		},
	)

	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Printf("postpilot: started (min_gap=%s, http=%s)", cfg.MinGap, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("postpilot: received signal %v, shutting down", received)

	// Phase 1: Stop HTTP ingest so no new triggers are emitted
	log.Println("postpilot: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("postpilot: http server shutdown error: %v", err)
	}
	log.Println("postpilot: http server stopped")

	// Phase 2: Stop the trigger worker (in-flight batch finishes first)
	log.Println("postpilot: stopping trigger worker...")
	cancelWorker()
	workerWg.Wait()
	log.Println("postpilot: trigger worker stopped")

	// Phase 3: Release leadership (stops sweeper and publisher via demotion)
	log.Println("postpilot: stopping leader duties...")
	cancelElector()
	drained := make(chan struct{})
	go func() {
		electorWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Println("postpilot: leader duties stopped")
	case <-time.After(cfg.PublisherDrainTimeout):
		// In-flight deliveries past the drain window are abandoned; their
		// claims go stale and another publisher picks them up.
		log.Printf("postpilot: leader duties still draining after %s, continuing shutdown", cfg.PublisherDrainTimeout)
	}

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		log.Println("postpilot: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("postpilot: metrics server shutdown error: %v", err)
		}
		log.Println("postpilot: metrics server stopped")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("postpilot: redis close error: %v", err)
		}
	}

	log.Println("postpilot: stopped")
	return exitSuccess
}

// runTriggerWorker consumes ready events and runs one batch per event. A
// batch failure is logged and dropped; the sweep retries the tenant later.
func runTriggerWorker(ctx context.Context, bus *channel.TriggerBus, engine *autopilot.Engine) {
	log.Println("trigger: worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("trigger: worker stopped")
			return
		case event := <-bus.Channel():
			if _, err := engine.OnReadyItemsAvailable(ctx, event.TenantKey); err != nil {
				log.Printf("trigger: tenant=%s batch error: %v", event.TenantKey, err)
			}
		}
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("postpilot version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
