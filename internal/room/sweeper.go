package room

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically runs Store.Cleanup for the lifetime of the process.
// It is an explicit object with Start/Stop so the entry point owns its
// lifecycle; a panicking sweep pass is logged and the schedule continues.
type Sweeper struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      logger,
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Stop halts the sweep loop, waiting for an in-flight pass to finish until
// ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("room sweep panicked", "recover", rec)
		}
	}()
	s.store.Cleanup()
}
