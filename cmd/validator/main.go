// Copyright 2025 Settlenet
//
// cmd/validator is the settlement core's single binary: it wires the
// intent gate, queue, batch manager, shadow indexer, and read API into
// one process, with a goroutine per subsystem and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/settlenet/engine/pkg/batch"
	"github.com/settlenet/engine/pkg/commitment"
	"github.com/settlenet/engine/pkg/config"
	"github.com/settlenet/engine/pkg/da"
	"github.com/settlenet/engine/pkg/database"
	"github.com/settlenet/engine/pkg/indexer"
	"github.com/settlenet/engine/pkg/ledger"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
	"github.com/settlenet/engine/pkg/queue"
	"github.com/settlenet/engine/pkg/resilience"
	"github.com/settlenet/engine/pkg/server"
	"github.com/settlenet/engine/pkg/session"
)

// status tracks per-subsystem readiness for the /health endpoint.
type status struct {
	mu        sync.RWMutex
	startTime time.Time
	database  string
	ledger    string
	circuit   string
	partition string
}

func newStatus() *status {
	return &status{startTime: time.Now(), database: "connecting", ledger: "connecting", circuit: "closed", partition: "synced"}
}

func (s *status) set(field *string, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field = value
}

func (s *status) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"status":         "ok",
		"database":       s.database,
		"ledger":         s.ledger,
		"circuit":        s.circuit,
		"partition":      s.partition,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the validator configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("settlenet: failed to load config: %v", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.Level(cfg.Logging.Level)
	logCfg.JSON = cfg.Logging.JSON
	logCfg.Environment = cfg.Environment
	logger := logging.New(logCfg)

	m := metrics.New(metrics.DefaultConfig())
	st := newStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.NewClient(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("settlenet: failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	st.set(&st.database, "connected")

	if err := dbClient.MigrateUp(ctx); err != nil {
		log.Fatalf("settlenet: migration failed: %v", err)
	}
	logger.Info("database migrations applied")

	// C1: session-key policy gate. No durable PolicyStore implementation
	// exists yet (spec.md leaves session-key issuance external to this
	// core); a restart loses in-flight spent counters until an operator
	// replays policy grants.
	policyStore := session.NewMemoryPolicyStore()
	gate := session.NewGate(policyStore, logger)

	// C2: durable intent queue.
	intentQueue := queue.NewPostgresQueue(dbClient, gate)

	// C5 dependencies: the ledger and DA store are external systems this
	// core only speaks a thin client protocol to (spec.md §1 Non-goals);
	// FakeLedger/FakeStore stand in behind the interface until a
	// production client is configured.
	var led ledger.Ledger = ledger.NewFakeLedger()
	var daStore da.Store = da.NewFakeStore()

	confirmer := resilience.NewFakeConfirmationDetector(logger, m)

	submitter := &commitment.Submitter{
		Ledger:     led,
		DA:         daStore,
		Confirmer:  confirmer,
		DAProvider: cfg.Settlement.DAProvider,
		Timeout:    cfg.Settlement.LedgerConfirmationTimeout.Duration,
		Log:        logger,
		Metrics:    m,
	}

	// C4: batch lifecycle manager.
	batchRepo := batch.NewPostgresRepository(dbClient)
	manager := batch.NewManager(intentQueue, batchRepo, led, submitter, cfg.Batch, logger, m)
	manager.Circuit = resilience.NewBrickMonitor(
		"ledger-submit",
		cfg.Resilience.CircuitBreakerK, cfg.Resilience.CircuitBreakerWindow.Duration,
		cfg.Resilience.CircuitBreakerCooldown.Duration, cfg.Resilience.CircuitBreakerN,
		logger, m,
	)
	manager.Partition = resilience.NewPartitionGuard(cfg.Resilience.PartitionThreshold.Duration, logger, m)

	// C6: shadow indexer, wired both as the manager's synchronous
	// notifier and as the standalone resync/subscribe path so a restart
	// catches up purely from batch.Repository state.
	indexRepo := indexer.NewPostgresRepository(dbClient)
	idx := indexer.New(indexRepo, batchRepo, led, logger, m)
	manager.Notifier = idx

	if applied, err := idx.Resync(ctx); err != nil {
		log.Fatalf("settlenet: indexer resync failed: %v", err)
	} else if applied > 0 {
		logger.Info("indexer resync complete", "batches_applied", applied)
	}

	st.set(&st.ledger, "connected")

	scheduler := batch.NewScheduler(manager, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := idx.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("indexer event loop stopped", "error", err)
		}
	}()

	handlers := server.New(intentQueue, batchRepo, indexRepo, logger)
	mux := handlers.Mux()
	mux.HandleFunc("/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st.snapshot()); err != nil {
			logger.Error("encode health response failed", "error", err)
		}
	})
	mux.Handle("/metrics", m.Handler())

	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("settlenet core listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("settlenet: http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("settlenet core stopped")
}
