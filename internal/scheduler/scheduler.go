package scheduler

import (
	"context"
	"sync"
	"time"

	"live-auction/internal/metrics"
	model "live-auction/internal/models"
	"live-auction/utils"
)

// Closer ends auctions. Closing is idempotent, so a duplicate firing is harmless.
type Closer interface {
	CloseExpired(ctx context.Context, auctionID string) (model.AuctionResult, error)
	SweepExpired(ctx context.Context) (int, error)
}

// Config holds configuration for the expiry scheduler.
type Config struct {
	// SweepInterval is how often active auctions are scanned for missed expiries.
	// Default: 30 seconds
	SweepInterval time.Duration

	// CloseTimeout bounds a single closure or sweep.
	// Default: 30 seconds
	CloseTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		CloseTimeout:  30 * time.Second,
	}
}

// ExpiryScheduler closes each auction once its end time passes. A per-auction
// timer does the precise work; the periodic sweep catches anything a timer
// missed, such as auctions left active across a restart.
type ExpiryScheduler struct {
	config Config

	mu     sync.Mutex
	closer Closer
	timers map[string]*armedTimer

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	stopped   bool

	// inflight counts closures and sweeps that Stop must wait for.
	inflight sync.WaitGroup
}

type armedTimer struct {
	timer *time.Timer
}

// NewExpiryScheduler creates a new expiry scheduler.
func NewExpiryScheduler(config Config) *ExpiryScheduler {
	defaults := DefaultConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaults.CloseTimeout
	}

	return &ExpiryScheduler{
		config: config,
		timers: make(map[string]*armedTimer),
		stopCh: make(chan struct{}),
	}
}

// Arm schedules one closure of auctionID at fireAt. Re-arming an auction
// replaces its pending timer. A fireAt in the past fires immediately.
func (s *ExpiryScheduler) Arm(auctionID string, fireAt time.Time) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[auctionID]; ok {
		existing.timer.Stop()
	}

	entry := &armedTimer{}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(auctionID, entry)
	})
	s.timers[auctionID] = entry
}

func (s *ExpiryScheduler) fire(auctionID string, entry *armedTimer) {
	s.mu.Lock()
	if s.timers[auctionID] == entry {
		delete(s.timers, auctionID)
	}
	closer := s.closer
	if closer == nil || s.stopped {
		// Not started yet, or shutting down; a later sweep picks this auction up.
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	metrics.ExpiryFirings.WithLabelValues("timer").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.CloseTimeout)
	defer cancel()

	if _, err := closer.CloseExpired(ctx, auctionID); err != nil {
		utils.Error("scheduled auction close failed", map[string]any{
			"auction_id": auctionID,
			"error":      err.Error(),
		})
	}
}

// Pending returns the number of armed timers.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Start attaches the closer and begins the periodic sweep.
func (s *ExpiryScheduler) Start(closer Closer) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.closer = closer
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.SweepInterval)
	s.mu.Unlock()

	utils.Info("expiry scheduler started", map[string]any{
		"sweep_interval": s.config.SweepInterval.String(),
	})

	go s.run()
}

// run is the main sweep loop.
func (s *ExpiryScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			utils.Info("expiry scheduler stopped", nil)
			return
		}
	}
}

func (s *ExpiryScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CloseTimeout)
	defer cancel()

	closed, err := s.SweepNow(ctx)
	if err != nil {
		utils.Error("expiry sweep failed", map[string]any{"error": err.Error()})
	}
	if closed > 0 {
		utils.Info("expiry sweep closed auctions", map[string]any{"closed": closed})
	}
}

// SweepNow runs one sweep immediately and returns how many auctions it closed.
func (s *ExpiryScheduler) SweepNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	closer := s.closer
	if closer == nil || s.stopped {
		s.mu.Unlock()
		return 0, nil
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	metrics.ExpiryFirings.WithLabelValues("sweep").Inc()
	return closer.SweepExpired(ctx)
}

// Stop halts the sweep, cancels every pending timer and waits for closures
// already under way.
func (s *ExpiryScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for id, entry := range s.timers {
			entry.timer.Stop()
			delete(s.timers, id)
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		s.inflight.Wait()
	})
}
