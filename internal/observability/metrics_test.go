package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/tickets/:id", "GET", 200, 5*time.Millisecond)
	m.RecordMessage("USER")
	m.RecordAppendRejected("TICKET_CLOSED")
	m.RecordEventDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`ticket_channel_http_requests_total{method="GET",path="/tickets/:id",status="200"} 1`,
		`ticket_channel_messages_appended_total{sender_role="USER"} 1`,
		`ticket_channel_append_rejected_total{code="TICKET_CLOSED"} 1`,
		`ticket_channel_hub_events_dropped_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordMessage("ADMIN")
	m.SessionOpened()
	m.SessionClosed()
}
