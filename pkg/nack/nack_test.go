package nack

import (
	"testing"
	"time"
)

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()
	p := NewPolicy()
	if p.Enabled() {
		t.Error("NACKs must default to disabled")
	}
	if p.MinInterval() != 1000*time.Millisecond {
		t.Errorf("expected default min interval 1000ms, got %s", p.MinInterval())
	}
	if p.Burst() != 1 {
		t.Errorf("expected default burst 1, got %d", p.Burst())
	}
	if p.LogInterval() != 5000*time.Millisecond {
		t.Errorf("expected default log interval 5000ms, got %s", p.LogInterval())
	}
}

func TestPolicyEnableDisable(t *testing.T) {
	t.Parallel()
	p := NewPolicy()
	p.Enable()
	if !p.Enabled() {
		t.Error("expected Enable to take effect")
	}
	p.Disable()
	if p.Enabled() {
		t.Error("expected Disable to take effect")
	}
}

func TestTrackerFirstSeenAlwaysSends(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{})
	h := [16]byte{0x01}
	if !tr.ShouldSendNack(h) {
		t.Error("first-seen schema must always be eligible for a NACK")
	}
}

func TestTrackerRateLimitsRepeats(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{MinInterval: 50 * time.Millisecond})
	h := [16]byte{0x02}

	tr.RecordNackSent(h)
	if tr.ShouldSendNack(h) {
		t.Error("expected immediate repeat to be rate limited")
	}

	time.Sleep(60 * time.Millisecond)
	if !tr.ShouldSendNack(h) {
		t.Error("expected NACK eligible again after min interval elapses")
	}
}

func TestTrackerCountsAndUniqueSchemas(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{})
	h1 := [16]byte{0x01}
	h2 := [16]byte{0x02}

	tr.RecordNackSent(h1)
	tr.RecordNackSent(h1)
	tr.RecordNackSent(h2)

	if tr.TotalNacksSent() != 3 {
		t.Errorf("expected 3 total nacks sent, got %d", tr.TotalNacksSent())
	}
	if tr.UniqueSchemas() != 2 {
		t.Errorf("expected 2 unique schemas, got %d", tr.UniqueSchemas())
	}
}

func TestTrackerPrunesToSeventyFivePercent(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{MaxTrackedSchemas: 4})

	for i := 0; i < 5; i++ {
		var h [16]byte
		h[0] = byte(i)
		tr.RecordNackSent(h)
		time.Sleep(time.Millisecond)
	}

	if got := tr.UniqueSchemas(); got != 3 {
		t.Errorf("expected pruning down to 75%% of 4 (=3), got %d", got)
	}
}

func TestTrackerClear(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{})
	tr.RecordNackSent([16]byte{0x01})
	tr.Clear()
	if tr.TotalNacksSent() != 0 || tr.UniqueSchemas() != 0 {
		t.Error("expected Clear to reset all tracked state")
	}
}

func TestShouldLogIndependentOfNackInterval(t *testing.T) {
	t.Parallel()
	tr := NewTracker(TrackerConfig{MinInterval: time.Hour, LogInterval: 20 * time.Millisecond})
	h := [16]byte{0x03}

	if !tr.ShouldLog(h) {
		t.Error("first-seen schema must always be eligible for a log line")
	}
	if tr.ShouldLog(h) {
		t.Error("expected immediate repeat log to be rate limited")
	}
	time.Sleep(30 * time.Millisecond)
	if !tr.ShouldLog(h) {
		t.Error("expected log eligible again after log interval elapses")
	}
}
