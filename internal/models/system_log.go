package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SystemLog stores ERROR+ diagnostic records for later inspection.
type SystemLog struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp     time.Time      `gorm:"not null;index" json:"timestamp"`
	Level         string         `gorm:"size:10;not null;index" json:"level"`
	Message       string         `gorm:"type:text" json:"message"`
	Category      string         `gorm:"size:32;index" json:"category"`
	SubjectID     *string        `gorm:"size:64;index" json:"subject_id"`
	CorrelationID string         `gorm:"size:36;index" json:"correlation_id"`
	Action        string         `gorm:"size:100" json:"action"`
	Error         string         `gorm:"type:text" json:"error"`
	LatencyMs     int            `json:"latency_ms"`
	Extra         datatypes.JSON `gorm:"default:'{}'" json:"extra"`
	CreatedAt     time.Time      `json:"created_at"`
}
