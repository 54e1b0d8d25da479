package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.RelayFinished("whatsapp_to_telegram", "text", "completed", 20*time.Millisecond)
	c.RelayFinished("whatsapp_to_telegram", "text", "completed", 30*time.Millisecond)
	c.RelayFinished("telegram_to_whatsapp", "document", "failed", time.Second)
	c.NotificationSent("telegram", nil)
	c.NotificationSent("whatsapp", errors.New("boom"))
	c.QueueEvent("telegram_to_whatsapp", "acked")
	c.WebhookRequest("/w", 403)
	c.StoreError("lookup")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.relays.WithLabelValues("whatsapp_to_telegram", "text", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relays.WithLabelValues("telegram_to_whatsapp", "document", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("whatsapp", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.webhooks.WithLabelValues("/w", "403")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeErrors.WithLabelValues("lookup")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.QueueEvent("whatsapp_to_telegram", "published")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `tgwabridge_queue_messages_total{direction="whatsapp_to_telegram",event="published"} 1`)
	assert.Contains(t, string(body), "tgwabridge_uptime_seconds")
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RelayFinished("a", "b", "c", time.Second)
		c.NotificationSent("telegram", nil)
		c.QueueEvent("a", "acked")
		c.WebhookRequest("/t", 200)
		c.StoreError("upsert")
	})
	assert.Zero(t, c.Uptime())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectors_AreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.StoreError("ping")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.storeErrors.WithLabelValues("ping")))
}
