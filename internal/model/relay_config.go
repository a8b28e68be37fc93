package model

import (
	"time"
)

// RelayConfig is a user's webhook destination. The relay only reads it;
// rows are managed through the settings API.
type RelayConfig struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     string    `json:"user_id" gorm:"type:varchar(64);not null;index:idx_webhook_config_user_active"`
	WebhookURL string    `json:"webhook_url" gorm:"type:text;not null"`
	APIKey     string    `json:"-" gorm:"type:text"`
	IsActive   bool      `json:"is_active" gorm:"not null;default:false;index:idx_webhook_config_user_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for RelayConfig
func (RelayConfig) TableName() string {
	return "webhook_config"
}

// HasAPIKey reports whether a bearer credential is forwarded to the destination
func (c *RelayConfig) HasAPIKey() bool {
	return c.APIKey != ""
}
