package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnpj-relay-go/internal/auth"
	"cnpj-relay-go/internal/config"
	"cnpj-relay-go/internal/db"
	"cnpj-relay-go/internal/metrics"
	"cnpj-relay-go/internal/model"
	"cnpj-relay-go/internal/relay"
	"cnpj-relay-go/internal/repository"
	"cnpj-relay-go/internal/scheduler"
)

const testDestination = "https://destination.test/webhook/abc123"

// destination records requests that would have reached the user's webhook
type destination struct {
	mu     sync.Mutex
	bodies []string
	status int
	reply  string
}

func (d *destination) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}
	d.mu.Lock()
	d.bodies = append(d.bodies, string(body))
	d.mu.Unlock()
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.reply)),
		Request:    r,
	}, nil
}

func (d *destination) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bodies)
}

type testEnv struct {
	engine   *gin.Engine
	repo     *repository.Repository
	dest     *destination
	resolver *auth.JWTResolver
	token    string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.Init(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	repo := repository.New(conn)

	resolver := auth.NewJWTResolver(config.AuthConfig{JWTSecret: "test-secret"})
	token, err := resolver.Issue("user-1", time.Hour)
	require.NoError(t, err)

	dest := &destination{status: http.StatusOK, reply: `{"ok":true}`}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	svc := relay.NewService(resolver, repo, repo, relay.NewForwarder(&http.Client{Transport: dest}, 0), m, relay.Options{})

	retentionCfg := config.RetentionConfig{Days: 30, Schedule: "0 0 3 * * *"}
	sched := scheduler.NewScheduler(retentionCfg, repo, m)

	h := NewHandlers(svc, repo, resolver, sched, retentionCfg, reg, 0)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	h.SetupRoutes(r)

	return &testEnv{engine: r, repo: repo, dest: dest, resolver: resolver, token: token}
}

func (e *testEnv) configure(t *testing.T, userID, webhookURL string, active bool) {
	t.Helper()
	require.NoError(t, e.repo.SaveConfig(context.Background(), &model.RelayConfig{
		UserID:     userID,
		WebhookURL: webhookURL,
		APIKey:     "dest-key",
		IsActive:   active,
	}))
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestReceiveSuccess(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	rec := env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, `{"cnpj":"00000000000191"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"success": true,
		"message": "Webhook forwarded successfully",
		"destination_status": 200,
		"destination_response": "{\"ok\":true}"
	}`, rec.Body.String())
	assert.Equal(t, 1, env.dest.calls())

	logs, total, err := env.repo.ListLogs(context.Background(), repository.LogFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.DirectionReceived, logs[0].Direction)
	assert.True(t, logs[0].Success)
}

func TestReceiveReportsDestinationFailureAsSuccess(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)
	env.dest.status = http.StatusInternalServerError
	env.dest.reply = "boom"

	rec := env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, `{"a":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(500), body["destination_status"])
	assert.Equal(t, "boom", body["destination_response"])
}

func TestReceiveErrors(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", "http://169.254.169.254/latest/meta-data/", true)
	inactive, err := env.resolver.Issue("user-2", time.Hour)
	require.NoError(t, err)
	env.configure(t, "user-2", testDestination, false)

	tests := []struct {
		name   string
		token  string
		body   string
		status int
		error  string
	}{
		{"no auth", "", `{"a":1}`, http.StatusUnauthorized, "Authorization required"},
		{"bad token", "garbage", `{"a":1}`, http.StatusUnauthorized, "Invalid authorization"},
		{"invalid json", env.token, `{"a":`, http.StatusBadRequest, "Invalid JSON in request body"},
		{"array", env.token, `[1,2,3]`, http.StatusBadRequest, "Payload must be a valid object"},
		{"metadata destination", env.token, `{"a":1}`, http.StatusBadRequest,
			"Invalid webhook URL configuration. URLs pointing to localhost, private networks, or metadata endpoints are not allowed."},
		{"inactive config", inactive, `{"a":1}`, http.StatusNotFound, "No active webhook configuration found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/webhooks/receive", tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{"error":`+mustJSON(t, tt.error)+`}`, rec.Body.String())
		})
	}

	assert.Zero(t, env.dest.calls())
	_, total, err := env.repo.ListLogs(context.Background(), repository.LogFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReceiveOversizedBody(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	body := `{"data":"` + strings.Repeat("x", 3*relay.MaxPayloadBytes) + `"}`
	rec := env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Payload size exceeds maximum limit of 100KB"}`, rec.Body.String())

	body = `{"data":"` + strings.Repeat("x", int(DefaultMaxBodyBytes)) + `"}`
	rec = env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"Request body too large"}`, rec.Body.String())

	assert.Zero(t, env.dest.calls())
}

func TestReceiveAcceptsIndentedPayload(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	items := make([]int, 10000)
	body, err := json.MarshalIndent(map[string][]int{"items": items}, "", strings.Repeat(" ", 20))
	require.NoError(t, err)
	require.Greater(t, len(body), 2*relay.MaxPayloadBytes)

	rec := env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, env.dest.calls())

	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, body))
	env.dest.mu.Lock()
	forwarded := env.dest.bodies[0]
	env.dest.mu.Unlock()
	assert.Equal(t, compact.String(), forwarded)
}

func TestReceiveMethods(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(http.MethodOptions, "/api/v1/webhooks/receive", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/webhooks/receive", env.token, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSendSuccess(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	rec := env.do(http.MethodPut, "/api/v1/webhooks/send", env.token, `{"cnpj":"00000000000191"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"success": true,
		"message": "Webhook sent successfully via PUT",
		"method": "PUT",
		"status": 200,
		"response": "{\"ok\":true}"
	}`, rec.Body.String())

	logs, _, err := env.repo.ListLogs(context.Background(), repository.LogFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "PUT "+testDestination, logs[0].Endpoint)
}

func TestSendGetForwardsQuery(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	rec := env.do(http.MethodGet, "/api/v1/webhooks/send?cnpj=123&cnpj=456", env.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET", decode(t, rec)["method"])

	logs, _, err := env.repo.ListLogs(context.Background(), repository.LogFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"cnpj":"456"}`, string(logs[0].Payload))
}

func TestSendMirrorsDestinationStatus(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)
	env.dest.status = http.StatusUnprocessableEntity
	env.dest.reply = `{"message":"bad cnpj"}`

	rec := env.do(http.MethodPost, "/api/v1/webhooks/send", env.token, `{"cnpj":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{
		"error": "Failed to send webhook",
		"status": 422,
		"response": "{\"message\":\"bad cnpj\"}"
	}`, rec.Body.String())
}

func TestSendMethodHandling(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	rec := env.do(http.MethodPatch, "/api/v1/webhooks/send", env.token, `{"a":1}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method PATCH not allowed. Use POST, GET, PUT, or DELETE"}`, rec.Body.String())

	rec = env.do(http.MethodOptions, "/api/v1/webhooks/send", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Zero(t, env.dest.calls())
}

func TestSendWithoutConfig(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/webhooks/send", env.token, `{"a":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"No active webhook configuration found. Please configure your webhook in Settings."}`, rec.Body.String())

	env.configure(t, "user-1", testDestination, false)
	rec = env.do(http.MethodPost, "/api/v1/webhooks/send", env.token, `{"a":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"No active webhook configuration found. Please configure your webhook in Settings."}`, rec.Body.String())
	assert.Zero(t, env.dest.calls())
}

func TestSendNotModifiedHasNoBody(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)
	env.dest.status = http.StatusNotModified
	env.dest.reply = ""

	rec := env.do(http.MethodPost, "/api/v1/webhooks/send", env.token, `{"cnpj":"1"}`)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	logs, _, err := env.repo.ListLogs(context.Background(), repository.LogFilter{UserID: "user-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].StatusCode)
	assert.Equal(t, http.StatusNotModified, *logs[0].StatusCode)
}

func TestLogsAreScopedToCaller(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, `{"i":1}`).Code)
	}
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/webhooks/send", env.token, `{"i":2}`).Code)

	rec := env.do(http.MethodGet, "/api/v1/logs?limit=2", env.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Logs       []RelayLogResponse `json:"logs"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Logs, 2)
	assert.Equal(t, int64(4), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Limit)
	assert.NotContains(t, rec.Body.String(), "user_id")

	rec = env.do(http.MethodGet, "/api/v1/logs?direction=sent", env.token, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Pagination.Total)
	require.Len(t, page.Logs, 1)
	ownLog := page.Logs[0].ID.String()

	rec = env.do(http.MethodGet, "/api/v1/logs/"+ownLog, env.token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decode(t, rec)["direction"])

	other, err := env.resolver.Issue("user-2", time.Hour)
	require.NoError(t, err)

	rec = env.do(http.MethodGet, "/api/v1/logs", other, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Zero(t, page.Pagination.Total)
	assert.Empty(t, page.Logs)

	rec = env.do(http.MethodGet, "/api/v1/logs/"+ownLog, other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogsValidation(t *testing.T) {
	env := setupTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/logs", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/logs?direction=sideways", env.token, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/logs/42", env.token, "").Code)
}

func TestConfigLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/config", env.token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, "/api/v1/config", env.token, `{"webhook_url":"https://hooks.example.com/a","api_key":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "https://hooks.example.com/a", body["webhook_url"])
	assert.Equal(t, true, body["has_api_key"])
	assert.Equal(t, true, body["is_active"])
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = env.do(http.MethodPut, "/api/v1/config", env.token, `{"webhook_url":"https://hooks.example.com/b","is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["has_api_key"])
	assert.Equal(t, false, body["is_active"])

	cfg, err := env.repo.GetConfig(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "https://hooks.example.com/b", cfg.WebhookURL)

	rec = env.do(http.MethodPut, "/api/v1/config", env.token, `{"webhook_url":"https://hooks.example.com/b","api_key":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["has_api_key"])

	rec = env.do(http.MethodGet, "/api/v1/config", env.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://hooks.example.com/b", decode(t, rec)["webhook_url"])
}

func TestConfigRejectsUnsafeURLs(t *testing.T) {
	env := setupTestEnv(t)

	for _, payload := range []string{
		`{"webhook_url":"http://localhost:5678/webhook"}`,
		`{"webhook_url":"http://192.168.0.10/hook"}`,
		`{"webhook_url":"ftp://example.com/hook"}`,
		`{"webhook_url":"not a url"}`,
		`{}`,
	} {
		rec := env.do(http.MethodPut, "/api/v1/config", env.token, payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}

	_, err := env.repo.GetConfig(context.Background(), "user-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, map[string]any{"scheduler": "stopped"}, body["retention"])
}

func TestRetentionStatus(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/retention", env.token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, float64(30), body["retention_days"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	env.configure(t, "user-1", testDestination, true)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/webhooks/receive", env.token, `{"a":1}`).Code)

	rec := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cnpj_relay_requests_total{direction="received",outcome="success"} 1`)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return strings.TrimSpace(buf.String())
}
