package ratelimit

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
		BanDuration:       time.Hour,
		MaxViolations:     3,
	}
}

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
}

func TestDenyBeyondBurst(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	for i := 0; i < 5; i++ {
		l.Allow("10.0.0.2")
	}
	if l.Allow("10.0.0.2") {
		t.Error("request beyond burst allowed")
	}
}

func TestBanAfterStrikes(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	// Drain the bucket, then accumulate strikes.
	for i := 0; i < 5; i++ {
		l.Allow("10.0.0.3")
	}
	for i := 0; i < 3; i++ {
		l.Allow("10.0.0.3")
	}

	if !l.IsBanned("10.0.0.3") {
		t.Error("source not banned after max strikes")
	}
	if l.Allow("10.0.0.3") {
		t.Error("banned source allowed")
	}
}

func TestBanEscalation(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	if got := l.banFor(0); got != time.Hour {
		t.Errorf("first ban = %v, want 1h", got)
	}
	if got := l.banFor(1); got != 2*time.Hour {
		t.Errorf("second ban = %v, want 2h", got)
	}
	if got := l.banFor(3); got != 8*time.Hour {
		t.Errorf("fourth ban = %v, want 8h", got)
	}
	// Escalation is capped.
	if got := l.banFor(100); got != time.Hour<<maxBanShift {
		t.Errorf("capped ban = %v, want %v", got, time.Hour<<maxBanShift)
	}
}

func TestIndependentSources(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	for i := 0; i < 6; i++ {
		l.Allow("10.0.0.4")
	}
	if !l.Allow("10.0.0.5") {
		t.Error("fresh source throttled by another source's usage")
	}
}

func TestStats(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	l.Allow("10.0.0.6")
	l.Allow("10.0.0.7")

	s := l.Stats()
	if s.ActiveSources != 2 {
		t.Errorf("ActiveSources = %d, want 2", s.ActiveSources)
	}
	if s.BannedSources != 0 {
		t.Errorf("BannedSources = %d, want 0", s.BannedSources)
	}

	// Earn a ban for one source and see it counted.
	for i := 0; i < 8; i++ {
		l.Allow("10.0.0.6")
	}
	s = l.Stats()
	if s.BannedSources != 1 {
		t.Errorf("BannedSources = %d, want 1 after ban", s.BannedSources)
	}
}

func TestSweepKeepsBannedSources(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	// Ban one source, leave another idle and unbanned.
	for i := 0; i < 8; i++ {
		l.Allow("10.0.0.8")
	}
	l.Allow("10.0.0.9")

	// Make both look idle, then sweep.
	l.mu.Lock()
	for _, s := range l.sources {
		s.lastSeen = time.Now().Add(-time.Hour)
	}
	l.mu.Unlock()
	l.sweep()

	if !l.IsBanned("10.0.0.8") {
		t.Error("sweep dropped a banned source's history")
	}
	l.mu.Lock()
	_, unbannedKept := l.sources["10.0.0.9"]
	l.mu.Unlock()
	if unbannedKept {
		t.Error("sweep kept an idle unbanned source")
	}
}

func TestDefaultsApplied(t *testing.T) {
	l := NewLimiter(Config{})
	defer l.Stop()

	if !l.Allow("10.0.0.10") {
		t.Error("default config denied first request")
	}
}
