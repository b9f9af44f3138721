// Package supervisor owns one indexer loop per enabled chain, restarting
// failed loops with exponential backoff. One chain's failure never touches
// its siblings.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/config"
	"github.com/agentscan/registry-indexer/pkg/events"
	"golang.org/x/sync/errgroup"
)

// ChainRunner is the per-chain loop the supervisor drives. Implemented by
// indexer.Loop; narrowed to an interface so restart behavior is testable
// with scripted runners.
type ChainRunner interface {
	Run(ctx context.Context) error
	SetProgressFunc(fn func())
}

// RunnerFactory builds a fresh runner for a chain. Called on start and on
// every restart, so a broken runner's internal state never survives a retry.
type RunnerFactory func(chain config.ChainConfig) (ChainRunner, error)

// Supervisor starts and babysits the indexer loops of all enabled chains.
type Supervisor struct {
	global    config.GlobalConfig
	chains    []config.ChainConfig
	store     *store.Store
	stats     *stats.Tracker
	newRunner RunnerFactory
	log       *logger.Logger
}

// New creates a Supervisor.
func New(
	global config.GlobalConfig,
	chains []config.ChainConfig,
	st *store.Store,
	tracker *stats.Tracker,
	newRunner RunnerFactory,
	log *logger.Logger,
) (*Supervisor, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if tracker == nil {
		return nil, errors.New("stats tracker is required")
	}
	if newRunner == nil {
		return nil, errors.New("runner factory is required")
	}

	return &Supervisor{
		global:    global,
		chains:    chains,
		store:     st,
		stats:     tracker,
		newRunner: newRunner,
		log:       log.WithComponent("supervisor"),
	}, nil
}

// Run starts one supervised task per enabled chain and blocks until every
// task has finished. Cancelling ctx signals all loops to stop; Run returns
// once they have drained. A chain that exhausts its retry budget reports its
// error here, after all siblings have exited.
func (s *Supervisor) Run(ctx context.Context) error {
	enabled := make([]config.ChainConfig, 0, len(s.chains))
	for _, chain := range s.chains {
		if chain.Enabled {
			enabled = append(enabled, chain)
		}
	}

	if len(enabled) == 0 {
		return errors.New("no enabled chains to supervise")
	}

	s.log.Infow("starting supervised chains", "count", len(enabled))

	// Deliberately not errgroup.WithContext: one chain failing terminally
	// must not cancel its siblings.
	var g errgroup.Group
	for _, chain := range enabled {
		g.Go(func() error {
			return s.supervise(ctx, chain)
		})
	}

	return g.Wait()
}

// supervise runs one chain's loop, restarting on failure until the retry
// budget is spent. The budget resets whenever the loop commits an iteration.
func (s *Supervisor) supervise(ctx context.Context, chain config.ChainConfig) error {
	log := s.log.WithChain(chain.Name)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		s.setStatus(ctx, chain.ChainID, events.StatusSyncing, "")
		log.Infow("starting indexer loop", "chain_id", chain.ChainID, "attempt", attempts)

		runner, err := s.newRunner(chain)
		if err != nil {
			s.setStatus(ctx, chain.ChainID, events.StatusFailed, err.Error())
			return fmt.Errorf("chain %s: failed to create indexer: %w", chain.Name, err)
		}

		// A committed iteration proves the chain is healthy again.
		runner.SetProgressFunc(func() { attempts = 0 })

		err = runner.Run(ctx)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Info("indexer loop stopped")
			return nil
		}

		if err == nil {
			// Run only returns without error on cancellation; treat a clean
			// return the same way.
			log.Info("indexer loop exited")
			return nil
		}

		log.Errorw("indexer loop failed", "error", err)
		s.setStatus(ctx, chain.ChainID, events.StatusFailed, err.Error())
		if incErr := s.store.IncrementErrorCount(ctx, chain.ChainID); incErr != nil {
			log.Warnf("failed to record error count: %v", incErr)
		}

		if errors.Is(err, store.ErrCursorRegression) {
			log.Error("cursor regression is fatal, not retrying")
			return fmt.Errorf("chain %s: %w", chain.Name, err)
		}

		if attempts >= s.global.MaxIndexerRetries {
			log.Errorw("retry budget exhausted, chain marked failed",
				"max_retries", s.global.MaxIndexerRetries)
			return fmt.Errorf("chain %s failed after %d retries: %w",
				chain.Name, s.global.MaxIndexerRetries, err)
		}

		attempts++
		metrics.IndexerRestarts.WithLabelValues(chain.Name).Inc()
		delay := s.backoff(attempts)

		log.Warnw("restarting indexer loop",
			"attempt", attempts,
			"max_retries", s.global.MaxIndexerRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// backoff computes min(retry_max_delay, retry_base_delay * 2^attempt).
func (s *Supervisor) backoff(attempt int) time.Duration {
	base := s.global.RetryBaseDelayMS
	maxDelay := s.global.RetryMaxDelayMS

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return time.Duration(maxDelay) * time.Millisecond
		}
	}

	return time.Duration(delay) * time.Millisecond
}

// setStatus writes the chain status, mirroring it into the stats registry.
func (s *Supervisor) setStatus(ctx context.Context, chainID uint64, status events.ChainStatus, errMsg string) {
	if err := s.store.SetChainStatus(ctx, chainID, status, errMsg); err != nil {
		s.log.Warnf("failed to set status %s for chain %d: %v", status, chainID, err)
		return
	}
	s.stats.SetStatus(chainID, status)
}
