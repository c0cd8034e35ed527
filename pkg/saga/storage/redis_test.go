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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/sagakit/pkg/saga"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreSaveAndFind(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	entity := newEntity()

	require.NoError(t, store.Save(ctx, entity))
	assert.Equal(t, int64(1), entity.ConcurrencyToken, "save initializes the token")

	found, err := store.FindByID(ctx, entity.SagaID)
	require.NoError(t, err)
	assert.Equal(t, entity.SagaID, found.SagaID)
	assert.Equal(t, entity.ContextData, found.ContextData)
	assert.Equal(t, saga.StatusNotStarted, found.Status)
}

func TestRedisStoreSaveIndexesStatus(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	entity := newEntity()
	entity.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, entity))

	// The value and its status-index entry land in one transaction, so a
	// freshly saved saga is immediately visible to the recovery sweep.
	found, err := store.FindByStatus(ctx, saga.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, entity.SagaID, found[0].SagaID)

	members, err := mr.SMembers(statusKey(saga.StatusInProgress))
	require.NoError(t, err)
	assert.Equal(t, []string{entity.SagaID.String()}, members)
}

func TestRedisStoreSaveDuplicate(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	entity := newEntity()

	require.NoError(t, store.Save(ctx, entity))
	err := store.Save(ctx, entity)
	assert.True(t, saga.IsSagaAlreadyExists(err))
}

func TestRedisStoreUpdateBumpsTokenAndMovesIndex(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	entity := newEntity()
	require.NoError(t, store.Save(ctx, entity))

	entity.Status = saga.StatusInProgress
	entity.CurrentStepIndex = 0
	require.NoError(t, store.Update(ctx, entity))
	assert.Equal(t, int64(2), entity.ConcurrencyToken)

	found, err := store.FindByID(ctx, entity.SagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusInProgress, found.Status)
	assert.Equal(t, int64(2), found.ConcurrencyToken)

	// The status change moves the id between index sets. Removing the last
	// member deletes the set, and miniredis's SMembers helper reports a
	// missing key as an error rather than an empty result.
	old, err := mr.SMembers(statusKey(saga.StatusNotStarted))
	if err != nil {
		require.ErrorIs(t, err, miniredis.ErrKeyNotFound)
	} else {
		assert.Empty(t, old)
	}
	current, err := mr.SMembers(statusKey(saga.StatusInProgress))
	require.NoError(t, err)
	assert.Equal(t, []string{entity.SagaID.String()}, current)
}

func TestRedisStoreUpdateConflict(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	entity := newEntity()
	require.NoError(t, store.Save(ctx, entity))

	stale := entity.Clone()
	entity.Status = saga.StatusInProgress
	require.NoError(t, store.Update(ctx, entity))

	stale.Status = saga.StatusCompleted
	err := store.Update(ctx, stale)
	assert.True(t, saga.IsConcurrencyConflict(err), "a stale token must be rejected")

	err = store.Update(ctx, newEntity())
	assert.True(t, saga.IsSagaNotFound(err))
}

func TestRedisStorePartialWritesSkipToken(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	entity := newEntity()
	require.NoError(t, store.Save(ctx, entity))

	require.NoError(t, store.UpdateStatus(ctx, entity.SagaID, saga.StatusInProgress))
	require.NoError(t, store.UpdateStepIndex(ctx, entity.SagaID, 2))
	require.NoError(t, store.UpdateContextData(ctx, entity.SagaID, []byte(`{"a":2}`)))

	found, err := store.FindByID(ctx, entity.SagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusInProgress, found.Status)
	assert.Equal(t, 2, found.CurrentStepIndex)
	assert.Equal(t, []byte(`{"a":2}`), found.ContextData)
	assert.Equal(t, int64(1), found.ConcurrencyToken, "partial writes must not bump the token")

	entity.Status = saga.StatusCompleted
	assert.NoError(t, store.Update(ctx, entity))
}

func TestRedisStorePartialWriteMissing(t *testing.T) {
	store, _ := newRedisStore(t)
	err := store.UpdateStatus(context.Background(), uuid.New(), saga.StatusInProgress)
	assert.True(t, saga.IsSagaNotFound(err))
}

func TestRedisStoreFindByStatusSkipsStaleMembers(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	entity := newEntity()
	entity.Status = saga.StatusInProgress
	require.NoError(t, store.Save(ctx, entity))

	// A leftover index member whose saga has moved on must be skipped.
	_, err := mr.SAdd(statusKey(saga.StatusInProgress), uuid.NewString())
	require.NoError(t, err)

	found, err := store.FindByStatus(ctx, saga.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, entity.SagaID, found[0].SagaID)
}

func TestRedisStoreFindByIDMissing(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.FindByID(context.Background(), uuid.New())
	assert.True(t, saga.IsSagaNotFound(err))
}
