package monitoring

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 两个实例互不冲突，也不会触发重复注册 panic
	a := NewMetrics(nil)
	b := NewMetrics(nil)

	a.RecordMessageReceived()
	a.RecordMessageReceived()
	b.RecordMessageReceived()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.MessagesReceived))
}

func TestMetrics_RecordSweep(t *testing.T) {
	m := NewMetrics(nil)
	at := time.Unix(1700000000, 0)

	m.RecordSweep(at, time.Millisecond, 3, 2)
	m.RecordIntakeState("parsed")
	m.RecordMailboxCreated("inbound")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.MessagesExpired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MailboxesExpired))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSweep))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeSessions.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailboxesCreated.WithLabelValues("inbound")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMessageReceived()
		m.RecordSweep(time.Now(), 0, 1, 1)
		m.UpdateStoreSizes(1, 1)
		m.RecordHTTPRequest("GET", "/", "200", 0, 0, 0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordMessageReceived()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempmail_messages_received_total 1")
}
