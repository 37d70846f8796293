// Command worker runs only the publisher poll loop. Useful for scaling
// publish throughput separately from the ingest API and scheduler: each
// record is claimed (scheduled to publishing) before the network send, so
// running several workers against the same database is safe.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/postpilot-io/postpilot/internal/circuitbreaker"
	"github.com/postpilot-io/postpilot/internal/config"
	"github.com/postpilot-io/postpilot/internal/publisher"
	"github.com/postpilot-io/postpilot/internal/store/postgres"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if cfg.PublishEndpoint == "" {
		fmt.Fprintln(os.Stderr, "PUBLISH_ENDPOINT is required for the worker")
		os.Exit(2)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}

	store := postgres.New(db, cfg.DBOpTimeout)

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
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pub.Run(ctx)
	}()

	log.Println("worker: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("worker: received signal %v, shutting down", received)

	cancel()
	wg.Wait()

	log.Println("worker: stopped")
}
