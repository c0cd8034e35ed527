// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package recovery implements the crash-recovery sweep: a background worker
// that queries the store for sagas stranded in a resumable status and routes
// each back into the orchestrator registered for its saga type.
package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/sagakit/pkg/logger"
	"github.com/innovationmech/sagakit/pkg/saga"
)

// Registry maps saga-type names to their resumers. It is safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	resumers map[string]saga.Resumer
}

// NewRegistry creates an empty resumer registry.
func NewRegistry() *Registry {
	return &Registry{resumers: make(map[string]saga.Resumer)}
}

// Register adds a resumer under its saga-type name. Registering the same
// name twice replaces the previous resumer.
func (r *Registry) Register(resumer saga.Resumer) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumers[resumer.SagaTypeName()] = resumer
	return r
}

// Lookup returns the resumer for a saga-type name.
func (r *Registry) Lookup(sagaType string) (saga.Resumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resumer, ok := r.resumers[sagaType]
	return resumer, ok
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	// Found is the number of resumable sagas the store returned.
	Found int

	// Resumed is the number of sagas resumed without error.
	Resumed int

	// Failed is the number of sagas whose resume returned an error.
	Failed int

	// Skipped is the number of sagas with no registered resumer.
	Skipped int
}

// Sweeper periodically queries the store for sagas in resumable statuses
// and hands each to the registered resumer for its type. Failures are
// per-saga: a saga that cannot be resumed is logged and skipped, never
// blocking the rest of the sweep.
type Sweeper struct {
	store    saga.Store
	registry *Registry
	config   *Config
	logger   *zap.Logger

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLogger sets a custom logger.
func WithLogger(l *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSweeper creates a sweeper over the given store and registry. A nil
// config uses defaults.
func NewSweeper(store saga.Store, registry *Registry, config *Config, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, saga.NewConfigurationError("sweeper store cannot be nil")
	}
	if registry == nil {
		return nil, saga.NewConfigurationError("sweeper registry cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Sweeper{
		store:    store,
		registry: registry,
		config:   config,
		logger:   logger.GetLogger().Named("recovery"),
	}, nil
}

// Start launches the background sweep loop. After the configured startup
// delay it runs one pass, then repeats every Interval; a zero Interval
// means a single recovery pass at startup.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return saga.NewConfigurationError("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.config.StartupDelay):
	}

	stats := s.SweepOnce(ctx)
	s.logSweep(stats)

	if s.config.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.SweepOnce(ctx)
			s.logSweep(stats)
		}
	}
}

// SweepOnce runs a single recovery pass over every configured status and
// returns what it did.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepStats {
	var stats SweepStats

	for _, status := range s.config.Statuses {
		entities, err := s.store.FindByStatus(ctx, status)
		if err != nil {
			s.logger.Error("recovery query failed",
				zap.Stringer("status", status),
				zap.Error(err),
			)
			continue
		}
		stats.Found += len(entities)

		for _, entity := range entities {
			if ctx.Err() != nil {
				return stats
			}
			s.resumeOne(ctx, entity, &stats)
		}
	}
	return stats
}

func (s *Sweeper) resumeOne(ctx context.Context, entity *saga.Entity, stats *SweepStats) {
	resumer, ok := s.registry.Lookup(entity.SagaType)
	if !ok {
		stats.Skipped++
		s.logger.Warn("no resumer registered for saga type, skipping",
			zap.String("saga_id", entity.SagaID.String()),
			zap.String("saga_type", entity.SagaType),
		)
		return
	}

	if err := resumer.ResumeEntity(ctx, entity); err != nil {
		stats.Failed++
		s.logger.Error("saga recovery failed",
			zap.String("saga_id", entity.SagaID.String()),
			zap.String("saga_type", entity.SagaType),
			zap.Error(err),
		)
		return
	}
	stats.Resumed++
}

func (s *Sweeper) logSweep(stats SweepStats) {
	if stats.Found == 0 {
		s.logger.Debug("recovery sweep found no resumable sagas")
		return
	}
	s.logger.Info("recovery sweep finished",
		zap.Int("found", stats.Found),
		zap.Int("resumed", stats.Resumed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)
}
