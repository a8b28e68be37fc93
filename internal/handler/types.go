package handler

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"cnpj-relay-go/internal/model"
)

// SendResponse is returned when the destination accepted an outbound relay
type SendResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Method   string `json:"method"`
	Status   int    `json:"status"`
	Response string `json:"response"`
}

// SendFailureResponse mirrors a destination's non-2xx reply
type SendFailureResponse struct {
	Error    string `json:"error"`
	Status   int    `json:"status"`
	Response string `json:"response"`
}

// ReceiveResponse is returned for every inbound relay that reached the
// destination, whatever its status.
type ReceiveResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	DestinationStatus   int    `json:"destination_status"`
	DestinationResponse string `json:"destination_response"`
}

// ConfigRequest represents the request structure for saving a destination
type ConfigRequest struct {
	WebhookURL string  `json:"webhook_url" binding:"required,url"`
	APIKey     *string `json:"api_key"`
	IsActive   *bool   `json:"is_active"`
}

// ConfigResponse represents a destination without its credential
type ConfigResponse struct {
	ID         uint      `json:"id"`
	WebhookURL string    `json:"webhook_url"`
	HasAPIKey  bool      `json:"has_api_key"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newConfigResponse(cfg *model.RelayConfig) ConfigResponse {
	return ConfigResponse{
		ID:         cfg.ID,
		WebhookURL: cfg.WebhookURL,
		HasAPIKey:  cfg.HasAPIKey(),
		IsActive:   cfg.IsActive,
		CreatedAt:  cfg.CreatedAt,
		UpdatedAt:  cfg.UpdatedAt,
	}
}

// RelayLogResponse represents the response structure for relay logs
type RelayLogResponse struct {
	ID           uuid.UUID       `json:"id"`
	Direction    model.Direction `json:"direction"`
	Endpoint     string          `json:"endpoint"`
	Payload      model.RawJSON   `json:"payload"`
	Response     datatypes.JSON  `json:"response"`
	StatusCode   *int            `json:"status_code"`
	Success      bool            `json:"success"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newRelayLogResponse(entry *model.RelayLog) RelayLogResponse {
	return RelayLogResponse{
		ID:           entry.ID,
		Direction:    entry.Direction,
		Endpoint:     entry.Endpoint,
		Payload:      entry.Payload,
		Response:     entry.Response,
		StatusCode:   entry.StatusCode,
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
		CreatedAt:    entry.CreatedAt,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Retention map[string]string `json:"retention,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
