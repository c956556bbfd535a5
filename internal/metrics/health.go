package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status grades a health probe
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// statusRank orders statuses for the worst-of fold
func statusRank(s Status) int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ProbeResult is one probe's verdict
type ProbeResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Probe inspects one piece of runtime state
type Probe func() ProbeResult

// Report aggregates all probes; overall status is the worst probe result
type Report struct {
	Status     Status        `json:"status"`
	Version    string        `json:"version,omitempty"`
	UptimeSecs int64         `json:"uptime_secs"`
	Probes     []ProbeResult `json:"probes,omitempty"`
}

// HealthChecker runs registered probes on demand
type HealthChecker struct {
	version string
	started time.Time
	mu      sync.RWMutex
	probes  []Probe
}

// NewHealthChecker creates a health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
	}
}

// Register adds a probe
func (hc *HealthChecker) Register(p Probe) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.probes = append(hc.probes, p)
}

// Report runs all probes and folds their statuses, worst wins
func (hc *HealthChecker) Report() Report {
	hc.mu.RLock()
	probes := hc.probes
	hc.mu.RUnlock()

	report := Report{
		Status:     StatusOK,
		Version:    hc.version,
		UptimeSecs: int64(time.Since(hc.started).Seconds()),
	}

	for _, probe := range probes {
		result := probe()
		report.Probes = append(report.Probes, result)
		if statusRank(result.Status) > statusRank(report.Status) {
			report.Status = result.Status
		}
	}

	return report
}

// HealthHandler serves the aggregated report; only StatusDown turns into
// a 503, a degraded node still relays
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Report()

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler serves the readiness endpoint
func (hc *HealthChecker) ReadinessHandler(isReady func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if isReady() {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		}
	}
}

// Uptime returns how long the checker has been alive
func (hc *HealthChecker) Uptime() time.Duration {
	return time.Since(hc.started)
}

// PoolProbe grades the relay pool against the hop count circuits need.
// An undersized pool is degraded, not down: sessions fall back to
// single-layer encryption rather than failing.
func PoolProbe(poolSize func() int, hopTarget int) Probe {
	return func() ProbeResult {
		n := poolSize()
		if n < hopTarget {
			return ProbeResult{
				Name:    "relay-pool",
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d relays known, circuits need %d", n, hopTarget),
			}
		}
		return ProbeResult{
			Name:    "relay-pool",
			Status:  StatusOK,
			Message: fmt.Sprintf("%d relays known", n),
		}
	}
}

// RelayLoadProbe grades the relay client table: degraded at or past ninety
// percent of capacity, down when full (new peers can no longer register)
func RelayLoadProbe(clients func() int, maxClients int) Probe {
	return func() ProbeResult {
		n := clients()
		switch {
		case maxClients > 0 && n >= maxClients:
			return ProbeResult{
				Name:    "relay-load",
				Status:  StatusDown,
				Message: fmt.Sprintf("client table full (%d/%d)", n, maxClients),
			}
		case maxClients > 0 && n*10 >= maxClients*9:
			return ProbeResult{
				Name:    "relay-load",
				Status:  StatusDegraded,
				Message: fmt.Sprintf("client table at %d/%d", n, maxClients),
			}
		default:
			return ProbeResult{
				Name:    "relay-load",
				Status:  StatusOK,
				Message: fmt.Sprintf("%d clients registered", n),
			}
		}
	}
}

// CircuitProbe grades the session's live circuit: a missing circuit means
// sends degrade to direct encryption
func CircuitProbe(hopCount func() int) Probe {
	return func() ProbeResult {
		hops := hopCount()
		if hops == 0 {
			return ProbeResult{
				Name:    "circuit",
				Status:  StatusDegraded,
				Message: "no live circuit, sends are single-layer",
			}
		}
		return ProbeResult{
			Name:    "circuit",
			Status:  StatusOK,
			Message: fmt.Sprintf("live circuit with %d hops", hops),
		}
	}
}
