package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cnpj-relay-go/internal/relay"
)

// Send relays an internal caller's payload to their destination using the
// caller's method.
func (h *Handlers) Send(c *gin.Context) {
	method := c.Request.Method
	if method == http.MethodOptions {
		h.Preflight(c)
		return
	}

	// GET carries its payload in the query; unsupported methods are
	// refused by the relay before any payload is looked at.
	var body []byte
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		var ok bool
		if body, ok = h.readBody(c); !ok {
			return
		}
	}

	outcome, err := h.relay.Send(c.Request.Context(), relay.SendRequest{
		Method:        method,
		Authorization: c.GetHeader("Authorization"),
		Query:         c.Request.URL.Query(),
		Body:          body,
	})
	if err != nil {
		writeRelayError(c, err)
		return
	}

	if !outcome.OK() {
		c.JSON(outcome.StatusCode, SendFailureResponse{
			Error:    "Failed to send webhook",
			Status:   outcome.StatusCode,
			Response: outcome.Body,
		})
		return
	}

	c.JSON(http.StatusOK, SendResponse{
		Success:  true,
		Message:  fmt.Sprintf("Webhook sent successfully via %s", method),
		Method:   method,
		Status:   outcome.StatusCode,
		Response: outcome.Body,
	})
}

// Receive relays an external caller's payload to their destination.
func (h *Handlers) Receive(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	outcome, err := h.relay.Receive(c.Request.Context(), relay.ReceiveRequest{
		Authorization: c.GetHeader("Authorization"),
		Body:          body,
	})
	if err != nil {
		writeRelayError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReceiveResponse{
		Success:             true,
		Message:             "Webhook forwarded successfully",
		DestinationStatus:   outcome.StatusCode,
		DestinationResponse: outcome.Body,
	})
}

// Preflight answers CORS preflight requests
func (h *Handlers) Preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// readBody reads at most maxBodyBytes. Whether the payload fits is left to
// the payload guard, which measures the compact form.
func (h *Handlers) readBody(c *gin.Context) ([]byte, bool) {
	if c.Request.Body == nil {
		return nil, true
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large"})
			return nil, false
		}
		logrus.WithError(err).Warn("Failed to read request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body"})
		return nil, false
	}
	return body, true
}

// writeRelayError translates a relay failure into its HTTP response.
func writeRelayError(c *gin.Context, err error) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		logrus.WithError(err).Error("Unexpected relay error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(relayErr.Kind.Status(), ErrorResponse{Error: relayErr.Message})
}
