package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/model"
	"cnpj-relay-go/internal/relay"
	"cnpj-relay-go/internal/repository"
)

// GetConfig returns the caller's webhook destination
func (h *Handlers) GetConfig(c *gin.Context) {
	cfg, err := h.repo.GetConfig(c.Request.Context(), currentUser(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "No webhook configuration found"})
			return
		}
		logrus.WithError(err).Error("Failed to fetch webhook config")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch webhook configuration"})
		return
	}

	c.JSON(http.StatusOK, newConfigResponse(cfg))
}

// UpdateConfig creates or replaces the caller's webhook destination. An
// omitted api_key keeps the stored one; an empty string clears it.
func (h *Handlers) UpdateConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	if !relay.IsForwardable(req.WebhookURL) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid webhook URL. URLs pointing to localhost, private networks, or metadata endpoints are not allowed.",
		})
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)

	cfg := &model.RelayConfig{
		UserID:     userID,
		WebhookURL: req.WebhookURL,
		IsActive:   true,
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if req.APIKey != nil {
		cfg.APIKey = *req.APIKey
	} else {
		existing, err := h.repo.GetConfig(ctx, userID)
		switch {
		case err == nil:
			cfg.APIKey = existing.APIKey
		case !errors.Is(err, repository.ErrNotFound):
			logrus.WithError(err).Error("Failed to fetch webhook config")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to save webhook configuration"})
			return
		}
	}

	if err := h.repo.SaveConfig(ctx, cfg); err != nil {
		logrus.WithError(err).Error("Failed to save webhook config")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to save webhook configuration"})
		return
	}

	logrus.WithFields(logrus.Fields{"user_id": userID, "is_active": cfg.IsActive}).Info("Webhook configuration saved")
	c.JSON(http.StatusOK, newConfigResponse(cfg))
}
