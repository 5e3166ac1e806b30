package postgres

import "time"

// BlobRecord is one durable key/value blob, e.g. the serialized baselines.
type BlobRecord struct {
	Key       string    `gorm:"primaryKey;type:text"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index:idx_blob_updated_at"`
}

// TableName overrides the default table name for GORM.
func (BlobRecord) TableName() string {
	return "blob_record"
}
