package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/model"
	"cnpj-relay-go/internal/repository"
)

// GetLogs returns the caller's relay logs with pagination
func (h *Handlers) GetLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	direction := model.Direction(c.Query("direction"))
	switch direction {
	case "", model.DirectionSent, model.DirectionReceived:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "direction must be sent or received"})
		return
	}

	logs, total, err := h.repo.ListLogs(c.Request.Context(), repository.LogFilter{
		UserID:    currentUser(c),
		Direction: direction,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to fetch logs")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch logs"})
		return
	}

	responses := make([]RelayLogResponse, 0, len(logs))
	for i := range logs {
		responses = append(responses, newRelayLogResponse(&logs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetLog returns one of the caller's relay logs
func (h *Handlers) GetLog(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid log ID"})
		return
	}

	entry, err := h.repo.GetLog(c.Request.Context(), currentUser(c), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Log not found"})
			return
		}
		logrus.WithError(err).Error("Failed to fetch log")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch log"})
		return
	}

	c.JSON(http.StatusOK, newRelayLogResponse(entry))
}
