package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgwabridge/internal/metrics"
)

type recordingSink struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (r *recordingSink) sink(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, string(payload))
	return r.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestServer(cfg Config) (*Server, *recordingSink, *recordingSink) {
	tg, wa := &recordingSink{}, &recordingSink{}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	return New(cfg, tg.sink, wa.sink), tg, wa
}

func do(s *Server, method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

var jsonHeader = map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestTelegramWebhook(t *testing.T) {
	s, tg, wa := newTestServer(Config{})

	rec := do(s, http.MethodPost, "/t", `{"update_id":1}`, jsonHeader)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{`{"update_id":1}`}, tg.bodies)
	assert.Empty(t, wa.bodies)

	rec = do(s, http.MethodPost, "/t", `{}`, map[string]string{echo.HeaderContentType: "application/json; charset=utf-8"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelegramWebhook_RequiresJSON(t *testing.T) {
	s, tg, _ := newTestServer(Config{})

	rec := do(s, http.MethodPost, "/t", `update_id=1`, map[string]string{echo.HeaderContentType: "application/x-www-form-urlencoded"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/t", `{}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, tg.bodies)
}

func TestCustomRoutes(t *testing.T) {
	s, tg, _ := newTestServer(Config{TelegramRoute: "/hooks/tg", WhatsAppRoute: "/hooks/wa", VerifyToken: "v"})

	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/hooks/tg", `{}`, jsonHeader).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/t", `{}`, jsonHeader).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/hooks/wa?hub.verify_token=v&hub.challenge=1", "", nil).Code)
	assert.Len(t, tg.bodies, 1)
}

func TestVerifyHandshake(t *testing.T) {
	s, _, _ := newTestServer(Config{VerifyToken: "s3cret"})

	tests := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"match", "hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"no mode", "hub.verify_token=s3cret&hub.challenge=abc", http.StatusOK, "abc"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=1", http.StatusForbidden, ""},
		{"missing token", "hub.challenge=1", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodGet, "/w?"+tt.query, "", nil)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
				assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
			}
		})
	}
}

func TestVerifyHandshake_NoTokenConfigured(t *testing.T) {
	s, _, _ := newTestServer(Config{})
	rec := do(s, http.MethodGet, "/w?hub.verify_token=&hub.challenge=1", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWhatsAppWebhook_Signature(t *testing.T) {
	body := `{"object":"whatsapp_business_account"}`
	s, _, wa := newTestServer(Config{AppSecret: "app-secret"})

	rec := do(s, http.MethodPost, "/w", body, map[string]string{signatureHeader: sign("app-secret", body)})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodPost, "/w", body, map[string]string{signatureHeader: sign("other", body)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(s, http.MethodPost, "/w", body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Len(t, wa.bodies, 1)
}

func TestWhatsAppWebhook_NoSecret(t *testing.T) {
	s, _, wa := newTestServer(Config{})
	rec := do(s, http.MethodPost, "/w", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, wa.bodies, 1)
}

func TestSinkFailureAnswers500(t *testing.T) {
	s, tg, _ := newTestServer(Config{})
	tg.err = errors.New("queue full")

	rec := do(s, http.MethodPost, "/t", `{}`, jsonHeader)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	s, tg, _ := newTestServer(Config{MaxBodyBytes: 16})

	rec := do(s, http.MethodPost, "/t", strings.Repeat("x", 17), jsonHeader)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, tg.bodies)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(Config{Store: stubPinger{}})
	rec := do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s, _, _ = newTestServer(Config{Store: stubPinger{err: errors.New("database is locked")}})
	rec = do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector()
	s, _, _ := newTestServer(Config{Metrics: m})

	do(s, http.MethodPost, "/t", `{}`, jsonHeader)
	do(s, http.MethodPost, "/t", `{}`, nil)

	rec := do(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tgwabridge_webhook_requests_total{code="200",route="/t"} 1`)
	assert.Contains(t, string(body), `tgwabridge_webhook_requests_total{code="403",route="/t"} 1`)
}

func TestMetricsEndpoint_DisabledWithoutCollector(t *testing.T) {
	s, _, _ := newTestServer(Config{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/metrics", "", nil).Code)
}
