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

// Package storage provides the built-in saga.Store implementations: an
// in-memory store for tests and embedded use, a GORM-backed MySQL store,
// and a Redis store.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/innovationmech/sagakit/pkg/saga"
)

var _ saga.Store = (*MemoryStore)(nil)

// MemoryStore keeps saga entities in process memory. It implements the full
// Store contract, including optimistic concurrency, and is the store of
// choice for tests and single-process embedding.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]*saga.Entity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[uuid.UUID]*saga.Entity),
	}
}

// Save inserts a new entity and initializes its concurrency token.
func (s *MemoryStore) Save(ctx context.Context, entity *saga.Entity) error {
	if err := ctx.Err(); err != nil {
		return saga.NewStorageError("save", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[entity.SagaID]; exists {
		return saga.NewSagaAlreadyExistsError(entity.SagaID)
	}

	stored := entity.Clone()
	stored.ConcurrencyToken = 1
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.entities[entity.SagaID] = stored

	entity.ConcurrencyToken = stored.ConcurrencyToken
	entity.UpdatedAt = stored.UpdatedAt
	return nil
}

// Update overwrites the full entity if the caller's token matches the
// stored one, then bumps the token on both.
func (s *MemoryStore) Update(ctx context.Context, entity *saga.Entity) error {
	if err := ctx.Err(); err != nil {
		return saga.NewStorageError("update", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.entities[entity.SagaID]
	if !exists {
		return saga.NewSagaNotFoundError(entity.SagaID)
	}
	if stored.ConcurrencyToken != entity.ConcurrencyToken {
		return saga.NewConcurrencyConflictError(entity.SagaID).
			WithDetail("expected_token", entity.ConcurrencyToken).
			WithDetail("actual_token", stored.ConcurrencyToken)
	}

	updated := entity.Clone()
	updated.ConcurrencyToken = stored.ConcurrencyToken + 1
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now()
	s.entities[entity.SagaID] = updated

	entity.ConcurrencyToken = updated.ConcurrencyToken
	entity.UpdatedAt = updated.UpdatedAt
	return nil
}

// UpdateStatus writes only the status, without a version check.
func (s *MemoryStore) UpdateStatus(ctx context.Context, sagaID uuid.UUID, status saga.Status) error {
	return s.partialUpdate(ctx, sagaID, "update_status", func(e *saga.Entity) {
		e.Status = status
	})
}

// UpdateStepIndex writes only the step index, without a version check.
func (s *MemoryStore) UpdateStepIndex(ctx context.Context, sagaID uuid.UUID, stepIndex int) error {
	return s.partialUpdate(ctx, sagaID, "update_step_index", func(e *saga.Entity) {
		e.CurrentStepIndex = stepIndex
	})
}

// UpdateContextData writes only the context blob, without a version check.
func (s *MemoryStore) UpdateContextData(ctx context.Context, sagaID uuid.UUID, contextData []byte) error {
	data := make([]byte, len(contextData))
	copy(data, contextData)
	return s.partialUpdate(ctx, sagaID, "update_context_data", func(e *saga.Entity) {
		e.ContextData = data
	})
}

func (s *MemoryStore) partialUpdate(ctx context.Context, sagaID uuid.UUID, op string, apply func(*saga.Entity)) error {
	if err := ctx.Err(); err != nil {
		return saga.NewStorageError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.entities[sagaID]
	if !exists {
		return saga.NewSagaNotFoundError(sagaID)
	}
	apply(stored)
	stored.UpdatedAt = time.Now()
	return nil
}

// FindByID retrieves a copy of the entity.
func (s *MemoryStore) FindByID(ctx context.Context, sagaID uuid.UUID) (*saga.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, saga.NewStorageError("find_by_id", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.entities[sagaID]
	if !exists {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	return stored.Clone(), nil
}

// FindByStatus retrieves copies of all entities with the given status.
func (s *MemoryStore) FindByStatus(ctx context.Context, status saga.Status) ([]*saga.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, saga.NewStorageError("find_by_status", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*saga.Entity
	for _, stored := range s.entities {
		if stored.Status == status {
			result = append(result, stored.Clone())
		}
	}
	return result, nil
}

// Len returns the number of stored entities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
