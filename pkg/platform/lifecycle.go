package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// stage is one named step of startup with its matching shutdown.
type stage struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts stages in registration order and stops them in reverse.
type Lifecycle struct {
	mu      sync.Mutex
	stages  []stage
	started bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Add registers a stage. Either callback may be nil.
func (l *Lifecycle) Add(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage{name: name, start: start, stop: stop})
}

// AddCloser registers a stage that only closes c on shutdown.
func (l *Lifecycle) AddCloser(name string, c interface{ Close() error }) {
	l.Add(name, nil, func(context.Context) error { return c.Close() })
}

// Start runs every start callback. When one fails, the stages already
// started are stopped in reverse order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("lifecycle already started")
	}

	for i, s := range l.stages {
		if s.start == nil {
			continue
		}
		if err := s.start(ctx); err != nil {
			l.rollback(ctx, i)
			return fmt.Errorf("starting %s: %w", s.name, err)
		}
		slog.Debug("lifecycle stage started", "stage", s.name)
	}

	l.started = true
	return nil
}

// rollback stops stages before failedAt in reverse order.
func (l *Lifecycle) rollback(ctx context.Context, failedAt int) {
	for j := failedAt - 1; j >= 0; j-- {
		s := l.stages[j]
		if s.stop == nil {
			continue
		}
		if err := s.stop(ctx); err != nil {
			slog.Warn("lifecycle rollback: stop failed", "stage", s.name, "error", err)
		}
	}
}

// Stop runs every stop callback in reverse order and joins their errors.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	var errs []error
	for i := len(l.stages) - 1; i >= 0; i-- {
		s := l.stages[i]
		if s.stop == nil {
			continue
		}
		if err := s.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", s.name, err))
		}
	}

	l.started = false
	return errors.Join(errs...)
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
