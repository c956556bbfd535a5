package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestReportWorstStatusWins(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(func() ProbeResult { return ProbeResult{Name: "a", Status: StatusOK} })
	hc.Register(func() ProbeResult { return ProbeResult{Name: "b", Status: StatusDegraded} })

	report := hc.Report()
	if report.Status != StatusDegraded {
		t.Errorf("Status = %q, want degraded", report.Status)
	}

	hc.Register(func() ProbeResult { return ProbeResult{Name: "c", Status: StatusDown} })
	if got := hc.Report().Status; got != StatusDown {
		t.Errorf("Status = %q, want down", got)
	}
}

func TestReportNoProbes(t *testing.T) {
	hc := NewHealthChecker("test")
	report := hc.Report()
	if report.Status != StatusOK {
		t.Errorf("Status = %q, want ok with no probes", report.Status)
	}
	if report.Version != "test" {
		t.Errorf("Version = %q, want test", report.Version)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		wantCode int
	}{
		{"ok serves 200", StatusOK, 200},
		{"degraded still serves 200", StatusDegraded, 200},
		{"down serves 503", StatusDown, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("")
			status := tt.status
			hc.Register(func() ProbeResult { return ProbeResult{Name: "p", Status: status} })

			rec := httptest.NewRecorder()
			hc.HealthHandler()(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var report Report
			if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
				t.Fatalf("body not a report: %v", err)
			}
			if report.Status != tt.status {
				t.Errorf("report status = %q, want %q", report.Status, tt.status)
			}
		})
	}
}

func TestPoolProbe(t *testing.T) {
	small := PoolProbe(func() int { return 2 }, 4)()
	if small.Status != StatusDegraded {
		t.Errorf("undersized pool status = %q, want degraded", small.Status)
	}

	enough := PoolProbe(func() int { return 4 }, 4)()
	if enough.Status != StatusOK {
		t.Errorf("sufficient pool status = %q, want ok", enough.Status)
	}
}

func TestRelayLoadProbe(t *testing.T) {
	tests := []struct {
		name    string
		clients int
		max     int
		want    Status
	}{
		{"idle", 5, 100, StatusOK},
		{"just below threshold", 89, 100, StatusOK},
		{"at ninety percent", 90, 100, StatusDegraded},
		{"full", 100, 100, StatusDown},
		{"unlimited", 100000, 0, StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RelayLoadProbe(func() int { return tt.clients }, tt.max)()
			if got.Status != tt.want {
				t.Errorf("status = %q, want %q", got.Status, tt.want)
			}
		})
	}
}

func TestCircuitProbe(t *testing.T) {
	if got := CircuitProbe(func() int { return 0 })(); got.Status != StatusDegraded {
		t.Errorf("no circuit status = %q, want degraded", got.Status)
	}
	if got := CircuitProbe(func() int { return 4 })(); got.Status != StatusOK {
		t.Errorf("live circuit status = %q, want ok", got.Status)
	}
}
