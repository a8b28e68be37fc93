package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"cnpj-relay-go/internal/auth"
	"cnpj-relay-go/internal/metrics"
	"cnpj-relay-go/internal/model"
	"cnpj-relay-go/internal/repository"
)

const (
	maxLoggedRawResponse = 1000
	maxLoggedError       = 500
	failureLogTimeout    = 10 * time.Second
)

// IdentityResolver exchanges a bearer token for a stable user id
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// ConfigStore returns a user's active destination or repository.ErrNotFound
type ConfigStore interface {
	FindActiveConfig(ctx context.Context, userID string) (*model.RelayConfig, error)
}

// LogSink persists relay attempts
type LogSink interface {
	InsertLog(ctx context.Context, entry *model.RelayLog) error
}

// Options tunes a Service
type Options struct {
	SendTimeout     time.Duration
	ReceiveTimeout  time.Duration
	MaxPayloadBytes int
}

// SendRequest is an outbound relay call from an internal caller
type SendRequest struct {
	Method        string
	Authorization string
	Query         url.Values
	Body          []byte
}

// ReceiveRequest is an inbound delivery from an external caller
type ReceiveRequest struct {
	Authorization string
	Body          []byte
}

var allowedSendMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodGet:    {},
	http.MethodPut:    {},
	http.MethodDelete: {},
}

// Service implements both relay directions
type Service struct {
	resolver  IdentityResolver
	configs   ConfigStore
	logs      LogSink
	forwarder *Forwarder
	metrics   *metrics.Metrics
	guard     PayloadGuard
	opts      Options
	wg        sync.WaitGroup
}

// NewService creates a relay service
func NewService(resolver IdentityResolver, configs ConfigStore, logs LogSink, forwarder *Forwarder, m *metrics.Metrics, opts Options) *Service {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 30 * time.Second
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = MaxPayloadBytes
	}
	return &Service{
		resolver:  resolver,
		configs:   configs,
		logs:      logs,
		forwarder: forwarder,
		metrics:   m,
		guard:     PayloadGuard{MaxBytes: opts.MaxPayloadBytes},
		opts:      opts,
	}
}

// Send forwards an internal caller's payload to their destination with the
// caller's HTTP method.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Outcome, error) {
	direction := model.DirectionSent

	if _, ok := allowedSendMethods[req.Method]; !ok {
		return nil, s.reject(direction, newError(KindMethodNotAllowed,
			fmt.Sprintf("Method %s not allowed. Use POST, GET, PUT, or DELETE", req.Method), nil))
	}

	userID, err := s.authenticate(ctx, req.Authorization)
	if err != nil {
		return nil, s.reject(direction, err)
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "direction": direction, "method": req.Method})

	payload, err := s.sendPayload(req)
	if err != nil {
		return nil, s.reject(direction, err)
	}

	cfg, err := s.activeConfig(ctx, userID, msgNoActiveConfigSend)
	if err != nil {
		return nil, s.reject(direction, err)
	}

	if !IsForwardable(cfg.WebhookURL) {
		log.WithField("endpoint", cfg.WebhookURL).Warn("Refusing to forward to unsafe destination")
		s.metrics.BlockedDestinations.WithLabelValues(string(direction)).Inc()
		return nil, s.reject(direction, newError(KindUnsafeDestination, msgUnsafeDestination, nil))
	}

	endpoint := fmt.Sprintf("%s %s", req.Method, cfg.WebhookURL)
	log.WithField("endpoint", cfg.WebhookURL).Info("Sending to webhook")

	outcome, err := s.forwarder.Forward(ctx, ForwardRequest{
		Method:  req.Method,
		URL:     cfg.WebhookURL,
		APIKey:  cfg.APIKey,
		Body:    payload,
		Timeout: s.opts.SendTimeout,
	})
	if errors.Is(err, ErrTimeout) {
		message := timeoutMessage(s.opts.SendTimeout)
		log.WithError(err).Error("Webhook request timed out")
		s.record(ctx, failedAttempt(userID, direction, endpoint, payload, message))
		return nil, s.reject(direction, newError(KindUpstreamTimeout, message, err))
	}
	if err != nil {
		log.WithError(err).Error("Error sending webhook")
		s.recordFailure(req.Authorization, err.Error())
		return nil, s.reject(direction, newError(KindInternal, err.Error(), err))
	}

	log.WithField("status", outcome.StatusCode).Info("Webhook response received")
	s.observe(direction, outcome)
	s.record(ctx, attemptLog(userID, direction, endpoint, payload, outcome))

	return outcome, nil
}

// Receive forwards an external caller's payload to the destination of the
// user the caller authenticates as. Destination non-2xx replies are not
// errors here: the outcome is returned as-is.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (*Outcome, error) {
	direction := model.DirectionReceived

	payload, err := DecodePayload(req.Body)
	if err != nil {
		return nil, s.reject(direction, newError(KindInvalidJSON, msgInvalidJSON, err))
	}
	if err := s.guard.Validate(payload); err != nil {
		return nil, s.reject(direction, payloadError(err))
	}

	userID, err := s.authenticate(ctx, req.Authorization)
	if err != nil {
		return nil, s.reject(direction, err)
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "direction": direction})
	log.WithField("payload_bytes", len(payload)).Info("Webhook received")

	cfg, err := s.activeConfig(ctx, userID, msgNoActiveConfigReceive)
	if err != nil {
		return nil, s.reject(direction, err)
	}

	if !IsForwardable(cfg.WebhookURL) {
		log.WithField("endpoint", cfg.WebhookURL).Warn("Refusing to forward to unsafe destination")
		s.metrics.BlockedDestinations.WithLabelValues(string(direction)).Inc()
		return nil, s.reject(direction, newError(KindUnsafeDestination, msgUnsafeDestination, nil))
	}

	log.WithField("endpoint", cfg.WebhookURL).Info("Forwarding to webhook")

	outcome, err := s.forwarder.Forward(ctx, ForwardRequest{
		Method:  http.MethodPost,
		URL:     cfg.WebhookURL,
		APIKey:  cfg.APIKey,
		Body:    payload,
		Timeout: s.opts.ReceiveTimeout,
	})
	if errors.Is(err, ErrTimeout) {
		message := timeoutMessage(s.opts.ReceiveTimeout)
		log.WithError(err).Error("Webhook request timed out")
		s.record(ctx, failedAttempt(userID, direction, cfg.WebhookURL, payload, message))
		return nil, s.reject(direction, newError(KindUpstreamTimeout, message, err))
	}
	if err != nil {
		log.WithError(err).Error("Error forwarding webhook")
		return nil, s.reject(direction, newError(KindInternal, err.Error(), err))
	}

	log.WithField("status", outcome.StatusCode).Info("Destination response received")
	s.observe(direction, outcome)
	s.record(ctx, attemptLog(userID, direction, cfg.WebhookURL, payload, outcome))

	return outcome, nil
}

// Wait blocks until pending failure logs are written
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) authenticate(ctx context.Context, header string) (string, error) {
	if header == "" {
		return "", newError(KindUnauthorized, msgAuthorizationRequired, auth.ErrMissingToken)
	}
	userID, err := s.resolver.Resolve(ctx, auth.BearerToken(header))
	if err != nil || userID == "" {
		logrus.WithError(err).Warn("Auth error")
		return "", newError(KindUnauthorized, msgInvalidAuthorization, err)
	}
	return userID, nil
}

func (s *Service) sendPayload(req SendRequest) (json.RawMessage, error) {
	if req.Method == http.MethodGet {
		payload, err := QueryPayload(req.Query)
		if err != nil {
			return nil, newError(KindInvalidJSON, msgInvalidJSON, err)
		}
		// an empty parameter set has nothing to bound
		if isEmptyObject(payload) {
			return payload, nil
		}
		if err := s.guard.Validate(payload); err != nil {
			return nil, payloadError(err)
		}
		return payload, nil
	}

	if len(bytes.TrimSpace(req.Body)) == 0 {
		return json.RawMessage("{}"), nil
	}
	payload, err := DecodePayload(req.Body)
	if err != nil {
		return nil, newError(KindInvalidJSON, msgInvalidJSON, err)
	}
	if err := s.guard.Validate(payload); err != nil {
		return nil, payloadError(err)
	}
	return payload, nil
}

func (s *Service) activeConfig(ctx context.Context, userID, notFoundMessage string) (*model.RelayConfig, error) {
	cfg, err := s.configs.FindActiveConfig(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		logrus.WithField("user_id", userID).Warn("No active webhook config found")
		return nil, newError(KindNoActiveConfig, notFoundMessage, err)
	}
	if err != nil {
		return nil, newError(KindInternal, "Failed to load webhook configuration", err)
	}
	return cfg, nil
}

func (s *Service) reject(direction model.Direction, err error) error {
	s.metrics.Requests.WithLabelValues(string(direction), KindOf(err).String()).Inc()
	return err
}

func (s *Service) observe(direction model.Direction, outcome *Outcome) {
	result := "success"
	if !outcome.OK() {
		result = KindUpstreamError.String()
	}
	s.metrics.Requests.WithLabelValues(string(direction), result).Inc()
	s.metrics.ForwardDuration.WithLabelValues(string(direction)).Observe(outcome.Duration.Seconds())
}

// record writes a log entry. A failed write is reported but never changes
// the caller's response.
func (s *Service) record(ctx context.Context, entry *model.RelayLog) {
	if err := s.logs.InsertLog(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.LogWriteFailures.Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":   entry.UserID,
			"direction": entry.Direction,
			"endpoint":  entry.Endpoint,
		}).Error("Failed to write relay log")
	}
}

// recordFailure attributes an unexpected send failure to the caller in the
// background, re-resolving identity from the original header.
func (s *Service) recordFailure(authorization, message string) {
	if authorization == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), failureLogTimeout)
		defer cancel()

		userID, err := s.resolver.Resolve(ctx, auth.BearerToken(authorization))
		if err != nil || userID == "" {
			logrus.WithError(err).Error("Failed to log error")
			return
		}
		s.record(ctx, failedAttempt(userID, model.DirectionSent, "error", json.RawMessage("{}"), message))
	}()
}

func payloadError(err error) *Error {
	var perr *PayloadError
	if errors.As(err, &perr) && perr.Kind == TooLarge {
		return newError(KindPayloadTooLarge, perr.Error(), err)
	}
	return newError(KindPayloadNotObject, err.Error(), err)
}

func attemptLog(userID string, direction model.Direction, endpoint string, payload json.RawMessage, outcome *Outcome) *model.RelayLog {
	status := outcome.StatusCode
	entry := &model.RelayLog{
		UserID:     userID,
		Direction:  direction,
		Endpoint:   endpoint,
		Payload:    model.RawJSON(payload),
		Response:   responseForLog(outcome.Body),
		StatusCode: &status,
		Success:    outcome.OK(),
	}
	if !outcome.OK() {
		message := fmt.Sprintf("HTTP %d: %s", outcome.StatusCode, truncate(outcome.Body, maxLoggedError))
		entry.ErrorMessage = &message
	}
	return entry
}

func failedAttempt(userID string, direction model.Direction, endpoint string, payload json.RawMessage, message string) *model.RelayLog {
	message = truncate(message, maxLoggedError)
	return &model.RelayLog{
		UserID:       userID,
		Direction:    direction,
		Endpoint:     endpoint,
		Payload:      model.RawJSON(payload),
		Success:      false,
		ErrorMessage: &message,
	}
}

// responseForLog keeps JSON replies as-is and wraps anything else as
// {"raw": <first 1000 characters>}.
func responseForLog(body string) datatypes.JSON {
	if body == "" {
		return nil
	}
	if json.Valid([]byte(body)) {
		return datatypes.JSON(body)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": truncate(body, maxLoggedRawResponse)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func timeoutMessage(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("Webhook request timed out after %d seconds", int(d/time.Second))
	}
	return fmt.Sprintf("Webhook request timed out after %s", d)
}
