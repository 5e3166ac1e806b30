package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricetracker/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ storage.BlobStore = (*PostgresClient)(nil)

// Save upserts the blob under key, replacing any previous value.
func (p *PostgresClient) Save(ctx context.Context, key string, value []byte) error {
	record := &BlobRecord{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	}

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(record)
	if tx.Error != nil {
		return fmt.Errorf("upsert blob %q: %w", key, tx.Error)
	}
	return nil
}

// Load returns the blob stored under key or storage.ErrNotFound.
func (p *PostgresClient) Load(ctx context.Context, key string) ([]byte, error) {
	var record BlobRecord
	err := p.DB.WithContext(ctx).
		Where("key = ?", key).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load blob %q: %w", key, err)
	}
	return []byte(record.Value), nil
}
