package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "store")

// DefaultSweepInterval is how often the sweeper removes expired entries.
const DefaultSweepInterval = time.Minute

// Service runs the periodic sweep over a store. It satisfies the runtime
// service registry contract.
type Service struct {
	ctx      context.Context
	cancel   context.CancelFunc
	store    *Store
	interval time.Duration
}

// NewService wraps a store with a sweep loop.
func NewService(ctx context.Context, s *Store, interval time.Duration) *Service {
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		store:    s,
		interval: interval,
	}
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// Start launches the sweep loop.
func (s *Service) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case now := <-ticker.C:
				if removed := s.store.Sweep(now); removed > 0 {
					log.WithField("removed", removed).Info("Swept expired attestations")
				}
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; the store has no failure modes of its own.
func (s *Service) Status() error {
	return nil
}
