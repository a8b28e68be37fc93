package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Direction of a relay attempt
type Direction string

const (
	// DirectionSent is an outbound relay triggered by an internal caller
	DirectionSent Direction = "sent"
	// DirectionReceived is an inbound delivery forwarded onward
	DirectionReceived Direction = "received"
)

// RelayLog is one row per relay attempt. Rows are append-only.
type RelayLog struct {
	ID           uuid.UUID      `json:"id" gorm:"type:char(36);primaryKey"`
	UserID       string         `json:"user_id" gorm:"type:varchar(64);not null;index:idx_webhook_logs_user_created"`
	Direction    Direction      `json:"direction" gorm:"type:varchar(16);not null"`
	Endpoint     string         `json:"endpoint" gorm:"type:text;not null"`
	Payload      RawJSON        `json:"payload"`
	Response     datatypes.JSON `json:"response"`
	StatusCode   *int           `json:"status_code"`
	Success      bool           `json:"success" gorm:"not null;default:false"`
	ErrorMessage *string        `json:"error_message" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"index:idx_webhook_logs_user_created"`
}

// BeforeCreate sets the UUID if not already set
func (l *RelayLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for RelayLog
func (RelayLog) TableName() string {
	return "webhook_logs"
}
