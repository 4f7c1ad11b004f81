// main.go - Settlement daemon entry point.
//
// settled runs a single settlement node: an account store, the ledger, a
// prover (local or delegated) and the REST API. Blocks are produced on a
// timer and on demand via POST /block.
//
// Usage:
//   settled --listen_addr :8380 --key_dir keys --prover_mode local

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/consensys/gnark/backend/groth16"

	"notevm/internal/account"
	"notevm/internal/prover"
	"notevm/internal/settle"
	"notevm/internal/store"
)

const version = "0.3.0"

// Pending transactions above this count mark the ledger component degraded.
const pendingBacklogThreshold = 1024

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "settled: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}

	logger, closeLogs, err := NewLogger(cfg.LogLevel, cfg.LogFile, cfg.AuditLog)
	if err != nil {
		return err
	}
	defer closeLogs()

	logger.Info().Str("version", version).Str("listen", cfg.ListenAddr).Msg("settled starting")

	if err := os.MkdirAll(cfg.KeyDir, 0o755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	accounts := account.NewStore(logger)

	var vk groth16.VerifyingKey
	var localProver *prover.LocalProver
	if cfg.ProverMode == "local" || cfg.VerifyProofs {
		localProver, err = prover.NewLocalProver(cfg.KeyDir, logger)
		if err != nil {
			return err
		}
		if cfg.VerifyProofs {
			vk = localProver.VerifyingKey()
		}
	}

	ledger := settle.NewLedger(accounts, vk, settle.Config{
		MaxEphemeralChainDepth: cfg.MaxChainDepth,
	}, logger)

	cache, err := store.Open(filepath.Join(cfg.DataDir, "cache"), logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	metrics := NewMetricsCollector()
	health := NewHealthChecker(version)
	health.RegisterComponent("ledger", func() error {
		if backlog := ledger.PendingCount(); backlog > pendingBacklogThreshold {
			return Degradation{Reason: fmt.Sprintf("pending pool backlog: %d transactions", backlog)}
		}
		return nil
	})
	health.RegisterComponent("cache", func() error {
		_, err := cache.SyncHeight()
		return err
	})
	if localProver != nil {
		health.RegisterComponent("prover", func() error {
			if localProver.VerifyingKey() == nil {
				return errors.New("proving keys not loaded")
			}
			return nil
		})
	}
	limiter := NewPeerRateLimiter(cfg.RateLimit, 2*cfg.RateLimit)

	api := NewAPI(accounts, ledger, metrics, health, limiter, logger)
	router := api.Router()
	if localProver != nil {
		router.HandleFunc("/prove", prover.ProvingHandler(localProver)).Methods(http.MethodPost)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic block production.
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.BlockPeriodSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ledger.PendingCount() == 0 {
					continue
				}
				block, results, err := ledger.ProduceBlock()
				if err != nil {
					logger.Error().Err(err).Msg("block production failed")
					metrics.RecordError("block_production")
					continue
				}
				committed := len(block.TxIDs)
				metrics.RecordBlock(block.Num, committed, len(results)-committed, ledger.PendingCount())
			}
		}
	}()

	// Drop rate limit state for peers that have gone quiet.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Prune(30 * time.Minute); n > 0 {
					logger.Debug().Int("peers", n).Msg("pruned idle rate limit buckets")
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("REST API listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
