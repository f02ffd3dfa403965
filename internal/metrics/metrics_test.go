package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	t.Parallel()
	m := New()

	m.SessionsActive.Set(3)
	m.MessagesSent.Inc()
	m.SlotPoolCapacity.WithLabelValues("sessions").Set(2000)
	m.CPUPercent.Set(42.5)
	m.CPUAllocatedCores.Set(2)
	m.CPUThrottledPeriods.Add(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"entropysync_sessions_active 3",
		"entropysync_messages_sent_total 1",
		`entropysync_slot_pool_capacity{pool="sessions"} 2000`,
		"entropysync_cpu_percent 42.5",
		"entropysync_cpu_allocated_cores 2",
		"entropysync_cpu_throttled_periods_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
