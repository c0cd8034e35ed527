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
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/innovationmech/sagakit/pkg/saga"
)

var _ saga.Store = (*GormStore)(nil)

// sagaRecord is the database projection of a saga.Entity. Statuses are
// stored in their string form so rows stay readable and stable across
// engine versions.
type sagaRecord struct {
	SagaID           string    `gorm:"column:saga_id;type:char(36);primaryKey"`
	SagaType         string    `gorm:"column:saga_type;type:varchar(128);not null;index:idx_sagas_type"`
	Status           string    `gorm:"column:status;type:varchar(32);not null;index:idx_sagas_status"`
	CurrentStepIndex int       `gorm:"column:current_step_index;not null"`
	ContextData      []byte    `gorm:"column:context_data;type:mediumblob"`
	ConcurrencyToken int64     `gorm:"column:concurrency_token;not null;default:1"`
	CreatedAt        time.Time `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null"`
}

// TableName specifies the table name for GORM.
func (sagaRecord) TableName() string {
	return "sagas"
}

func toRecord(e *saga.Entity) *sagaRecord {
	return &sagaRecord{
		SagaID:           e.SagaID.String(),
		SagaType:         e.SagaType,
		Status:           e.Status.String(),
		CurrentStepIndex: e.CurrentStepIndex,
		ContextData:      e.ContextData,
		ConcurrencyToken: e.ConcurrencyToken,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (r *sagaRecord) toEntity() (*saga.Entity, error) {
	id, err := uuid.Parse(r.SagaID)
	if err != nil {
		return nil, saga.NewStorageError("decode", err)
	}
	status, err := saga.ParseStatus(r.Status)
	if err != nil {
		return nil, saga.NewStorageError("decode", err)
	}
	return &saga.Entity{
		SagaID:           id,
		SagaType:         r.SagaType,
		Status:           status,
		CurrentStepIndex: r.CurrentStepIndex,
		ContextData:      r.ContextData,
		ConcurrencyToken: r.ConcurrencyToken,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

// GormStore persists saga entities through GORM. The connection must be
// opened with TranslateError enabled so duplicate-key violations surface as
// gorm.ErrDuplicatedKey; NewMySQLStore does this.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an existing GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// NewMySQLStore opens a MySQL connection for the given DSN and returns a
// store backed by it.
func NewMySQLStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, saga.NewStorageError("connect", err)
	}
	return NewGormStore(db), nil
}

// Migrate creates or updates the sagas table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sagaRecord{}); err != nil {
		return saga.NewStorageError("migrate", err)
	}
	return nil
}

// Save inserts a new entity with its concurrency token initialized to 1.
func (s *GormStore) Save(ctx context.Context, entity *saga.Entity) error {
	record := toRecord(entity)
	record.ConcurrencyToken = 1
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return saga.NewSagaAlreadyExistsError(entity.SagaID)
		}
		return saga.NewStorageError("save", err)
	}

	entity.ConcurrencyToken = record.ConcurrencyToken
	entity.CreatedAt = record.CreatedAt
	entity.UpdatedAt = record.UpdatedAt
	return nil
}

// Update overwrites the entity where the stored token still matches,
// bumping the token in the same statement. Zero affected rows means either
// a missing row or a lost update; an existence probe disambiguates.
func (s *GormStore) Update(ctx context.Context, entity *saga.Entity) error {
	newToken := entity.ConcurrencyToken + 1
	now := time.Now()

	result := s.db.WithContext(ctx).Model(&sagaRecord{}).
		Where("saga_id = ? AND concurrency_token = ?", entity.SagaID.String(), entity.ConcurrencyToken).
		Updates(map[string]interface{}{
			"saga_type":          entity.SagaType,
			"status":             entity.Status.String(),
			"current_step_index": entity.CurrentStepIndex,
			"context_data":       entity.ContextData,
			"concurrency_token":  newToken,
			"updated_at":         now,
		})
	if result.Error != nil {
		return saga.NewStorageError("update", result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := s.exists(ctx, entity.SagaID)
		if err != nil {
			return err
		}
		if !exists {
			return saga.NewSagaNotFoundError(entity.SagaID)
		}
		return saga.NewConcurrencyConflictError(entity.SagaID)
	}

	entity.ConcurrencyToken = newToken
	entity.UpdatedAt = now
	return nil
}

// UpdateStatus writes only the status field, without a version check.
func (s *GormStore) UpdateStatus(ctx context.Context, sagaID uuid.UUID, status saga.Status) error {
	return s.partialUpdate(ctx, sagaID, "update_status", map[string]interface{}{
		"status": status.String(),
	})
}

// UpdateStepIndex writes only the current step index, without a version check.
func (s *GormStore) UpdateStepIndex(ctx context.Context, sagaID uuid.UUID, stepIndex int) error {
	return s.partialUpdate(ctx, sagaID, "update_step_index", map[string]interface{}{
		"current_step_index": stepIndex,
	})
}

// UpdateContextData writes only the context blob, without a version check.
func (s *GormStore) UpdateContextData(ctx context.Context, sagaID uuid.UUID, contextData []byte) error {
	return s.partialUpdate(ctx, sagaID, "update_context_data", map[string]interface{}{
		"context_data": contextData,
	})
}

// partialUpdate writes a field subset by id. MySQL reports zero affected
// rows for updates that change nothing, so a zero count falls back to an
// existence probe before declaring the saga missing.
func (s *GormStore) partialUpdate(ctx context.Context, sagaID uuid.UUID, op string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&sagaRecord{}).
		Where("saga_id = ?", sagaID.String()).
		Updates(fields)
	if result.Error != nil {
		return saga.NewStorageError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := s.exists(ctx, sagaID)
		if err != nil {
			return err
		}
		if !exists {
			return saga.NewSagaNotFoundError(sagaID)
		}
	}
	return nil
}

func (s *GormStore) exists(ctx context.Context, sagaID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&sagaRecord{}).
		Where("saga_id = ?", sagaID.String()).
		Count(&count).Error
	if err != nil {
		return false, saga.NewStorageError("exists", err)
	}
	return count > 0, nil
}

// FindByID retrieves an entity by id.
func (s *GormStore) FindByID(ctx context.Context, sagaID uuid.UUID) (*saga.Entity, error) {
	var record sagaRecord
	err := s.db.WithContext(ctx).
		Where("saga_id = ?", sagaID.String()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, saga.NewSagaNotFoundError(sagaID)
		}
		return nil, saga.NewStorageError("find_by_id", err)
	}
	return record.toEntity()
}

// FindByStatus retrieves all entities with the given status, oldest first.
func (s *GormStore) FindByStatus(ctx context.Context, status saga.Status) ([]*saga.Entity, error) {
	var records []sagaRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Order("updated_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, saga.NewStorageError("find_by_status", err)
	}

	entities := make([]*saga.Entity, 0, len(records))
	for i := range records {
		entity, err := records[i].toEntity()
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
