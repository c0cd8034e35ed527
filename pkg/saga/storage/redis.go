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

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/innovationmech/sagakit/pkg/saga"
)

var _ saga.Store = (*RedisStore)(nil)

const redisKeyPrefix = "sagakit"

// RedisStore persists saga entities as JSON values keyed by saga id, with
// per-status index sets for FindByStatus. Writes that must observe existing
// state run under WATCH so a concurrent writer aborts the transaction
// instead of silently losing an update.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and returns a store backed by
// a new client.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, saga.NewStorageError("connect", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func sagaKey(sagaID uuid.UUID) string {
	return redisKeyPrefix + ":saga:" + sagaID.String()
}

func statusKey(status saga.Status) string {
	return redisKeyPrefix + ":status:" + status.String()
}

// Save inserts a new entity. The value and its status-index entry are
// written in one MULTI/EXEC block so the index can never miss a saga the
// recovery sweep should see; the id is watched so a concurrent insert of
// the same saga surfaces as already-exists instead of a lost write.
func (s *RedisStore) Save(ctx context.Context, entity *saga.Entity) error {
	stored := entity.Clone()
	stored.ConcurrencyToken = 1
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		return saga.NewSerializationError("marshal", err)
	}

	key := sagaKey(entity.SagaID)
	txn := func(tx *redis.Tx) error {
		_, err := tx.Get(ctx, key).Result()
		if err == nil {
			return saga.NewSagaAlreadyExistsError(entity.SagaID)
		}
		if !errors.Is(err, redis.Nil) {
			return saga.NewStorageError("save", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, statusKey(stored.Status), entity.SagaID.String())
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return saga.NewSagaAlreadyExistsError(entity.SagaID)
		}
		return err
	}

	entity.ConcurrencyToken = stored.ConcurrencyToken
	entity.CreatedAt = stored.CreatedAt
	entity.UpdatedAt = stored.UpdatedAt
	return nil
}

// Update overwrites the full entity under WATCH. The stored token must
// match the caller's; a token mismatch or a concurrent write both surface
// as a concurrency conflict.
func (s *RedisStore) Update(ctx context.Context, entity *saga.Entity) error {
	key := sagaKey(entity.SagaID)
	newToken := entity.ConcurrencyToken + 1
	now := time.Now()

	txn := func(tx *redis.Tx) error {
		stored, err := s.loadWatched(ctx, tx, entity.SagaID)
		if err != nil {
			return err
		}
		if stored.ConcurrencyToken != entity.ConcurrencyToken {
			return saga.NewConcurrencyConflictError(entity.SagaID)
		}

		updated := entity.Clone()
		updated.ConcurrencyToken = newToken
		updated.CreatedAt = stored.CreatedAt
		updated.UpdatedAt = now
		data, err := json.Marshal(updated)
		if err != nil {
			return saga.NewSerializationError("marshal", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if stored.Status != updated.Status {
				pipe.SRem(ctx, statusKey(stored.Status), entity.SagaID.String())
				pipe.SAdd(ctx, statusKey(updated.Status), entity.SagaID.String())
			}
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return saga.NewConcurrencyConflictError(entity.SagaID)
		}
		return err
	}

	entity.ConcurrencyToken = newToken
	entity.UpdatedAt = now
	return nil
}

// UpdateStatus writes only the status field, without a token check.
func (s *RedisStore) UpdateStatus(ctx context.Context, sagaID uuid.UUID, status saga.Status) error {
	return s.partialUpdate(ctx, sagaID, func(e *saga.Entity) {
		e.Status = status
	})
}

// UpdateStepIndex writes only the step index, without a token check.
func (s *RedisStore) UpdateStepIndex(ctx context.Context, sagaID uuid.UUID, stepIndex int) error {
	return s.partialUpdate(ctx, sagaID, func(e *saga.Entity) {
		e.CurrentStepIndex = stepIndex
	})
}

// UpdateContextData writes only the context blob, without a token check.
func (s *RedisStore) UpdateContextData(ctx context.Context, sagaID uuid.UUID, contextData []byte) error {
	data := make([]byte, len(contextData))
	copy(data, contextData)
	return s.partialUpdate(ctx, sagaID, func(e *saga.Entity) {
		e.ContextData = data
	})
}

// partialUpdate is a WATCH-guarded read-modify-write of one field. The
// concurrency token is neither checked nor bumped; only a racing writer on
// the same key aborts the transaction, and the write is retried.
func (s *RedisStore) partialUpdate(ctx context.Context, sagaID uuid.UUID, apply func(*saga.Entity)) error {
	key := sagaKey(sagaID)

	txn := func(tx *redis.Tx) error {
		stored, err := s.loadWatched(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		oldStatus := stored.Status
		apply(stored)
		stored.UpdatedAt = time.Now()

		data, err := json.Marshal(stored)
		if err != nil {
			return saga.NewSerializationError("marshal", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if oldStatus != stored.Status {
				pipe.SRem(ctx, statusKey(oldStatus), sagaID.String())
				pipe.SAdd(ctx, statusKey(stored.Status), sagaID.String())
			}
			return nil
		})
		return err
	}

	for {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func (s *RedisStore) loadWatched(ctx context.Context, tx *redis.Tx, sagaID uuid.UUID) (*saga.Entity, error) {
	data, err := tx.Get(ctx, sagaKey(sagaID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	if err != nil {
		return nil, saga.NewStorageError("load", err)
	}
	var entity saga.Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, saga.NewSerializationError("unmarshal", err)
	}
	return &entity, nil
}

// FindByID retrieves an entity by id.
func (s *RedisStore) FindByID(ctx context.Context, sagaID uuid.UUID) (*saga.Entity, error) {
	data, err := s.client.Get(ctx, sagaKey(sagaID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, saga.NewSagaNotFoundError(sagaID)
	}
	if err != nil {
		return nil, saga.NewStorageError("find_by_id", err)
	}
	var entity saga.Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, saga.NewSerializationError("unmarshal", err)
	}
	return &entity, nil
}

// FindByStatus retrieves all entities in the given status index set. Index
// members whose saga key has meanwhile moved to another status are skipped.
func (s *RedisStore) FindByStatus(ctx context.Context, status saga.Status) ([]*saga.Entity, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, saga.NewStorageError("find_by_status", err)
	}

	var entities []*saga.Entity
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		entity, err := s.FindByID(ctx, id)
		if err != nil {
			if saga.IsSagaNotFound(err) {
				continue
			}
			return nil, err
		}
		if entity.Status == status {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}
