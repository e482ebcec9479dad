package kitchen

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"golang.org/x/sync/errgroup"
)

// Sweeper runs the periodic pacing sweep. Sweeps never overlap: a tick that
// arrives while one is still running is dropped.
type Sweeper struct {
	orch   *Orchestrator
	cfg    Config
	logger apt.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(orch *Orchestrator, logger apt.Logger) *Sweeper {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Sweeper{
		orch:   orch,
		cfg:    orch.Config(),
		logger: logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, s.done)

	s.logger.Info("pacing sweeper started", "interval", s.cfg.SweepInterval, "concurrency", s.cfg.SweepConcurrency)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info("pacing sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

// SweepAll sweeps every restaurant in scope, a bounded number at a time. One
// restaurant failing or timing out does not affect the others.
func (s *Sweeper) SweepAll(ctx context.Context) []SweepResult {
	restaurants, err := s.scope(ctx)
	if err != nil {
		s.logger.Error("cannot resolve restaurants to sweep", "error", err)
		return nil
	}

	results := make([]SweepResult, len(restaurants))

	var g errgroup.Group
	g.SetLimit(s.cfg.SweepConcurrency)

	for i, restaurantID := range restaurants {
		g.Go(func() error {
			sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
			defer cancel()

			res, err := s.orch.RecomputePacingSweep(sweepCtx, restaurantID)
			if err != nil {
				res.Err = err
				s.logger.Error("pacing sweep failed", "restaurant_id", restaurantID, "error", err)
			} else if res.Broadcast > 0 {
				s.logger.Debug("pacing sweep broadcast changes",
					"restaurant_id", restaurantID,
					"evaluated", res.Evaluated,
					"broadcast", res.Broadcast,
				)
			}
			results[i] = res
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (s *Sweeper) scope(ctx context.Context) ([]string, error) {
	if len(s.cfg.Restaurants) > 0 {
		return s.cfg.Restaurants, nil
	}
	return s.orch.ActiveRestaurants(ctx)
}
