// Package directory provides the bootstrap registry relays register with
// and sessions pull candidate nodes from.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/internal/ratelimit"
)

// RelayInfo is one registered relay.
type RelayInfo struct {
	// Address is the relay's taior address.
	Address string `json:"address"`

	// Endpoint is where the relay accepts transport connections.
	Endpoint string `json:"endpoint"`

	// LastSeen is when the relay last re-registered.
	LastSeen time.Time `json:"last_seen"`

	// RegisteredAt is when the relay first registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// ServerConfig tunes the directory server.
type ServerConfig struct {
	Host        string
	Port        int
	RegisterTTL time.Duration

	// RateLimit enables per-IP limiting on the registry endpoints; zero
	// values disable it.
	RateLimit ratelimit.Config
}

// Server is the relay registry.
type Server struct {
	cfg     ServerConfig
	log     *logging.Logger
	metrics *metrics.PrometheusMetrics
	health  *metrics.HealthChecker
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	relays map[string]*RelayInfo

	httpServer    *http.Server
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewServer creates a directory server.
func NewServer(cfg ServerConfig, log *logging.Logger, m *metrics.PrometheusMetrics) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.RegisterTTL <= 0 {
		cfg.RegisterTTL = time.Hour
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}
	s := &Server{
		cfg:         cfg,
		log:         log.WithComponent("directory-server"),
		metrics:     m,
		health:      metrics.NewHealthChecker(""),
		limiter:     limiter,
		relays:      make(map[string]*RelayInfo),
		stopCleanup: make(chan struct{}),
	}
	// A registry smaller than the longest circuit means bootstrapping
	// sessions will run degraded.
	s.health.Register(metrics.PoolProbe(s.RelayCount, 5))
	return s
}

// Handler returns the HTTP mux, also usable under a test server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/relays", s.handleRelays)
	mux.HandleFunc("/relays/register", s.handleRegister)
	mux.HandleFunc("/health", s.health.HealthHandler())
	mux.HandleFunc("/stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mw := NewMiddleware(s.log, s.metrics, s.limiter)
	return mw.Chain(mux)
}

// Start begins serving and the stale-relay cleanup loop.
func (s *Server) Start() error {
	s.cleanupTicker = time.NewTicker(time.Minute)
	go s.cleanupLoop()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("Directory server started")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Directory server failed")
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopCleanup)
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// RelayCount returns the number of registered relays.
func (s *Server) RelayCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relays)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var info RelayInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if info.Address == "" || info.Endpoint == "" {
		http.Error(w, "address and endpoint required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	s.mu.Lock()
	existing, ok := s.relays[info.Address]
	if ok {
		existing.Endpoint = info.Endpoint
		existing.LastSeen = now
	} else {
		info.RegisteredAt = now
		info.LastSeen = now
		s.relays[info.Address] = &info
	}
	s.mu.Unlock()

	s.log.WithAddress(info.Address).Debug().Msg("Relay registered")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"registered": true,
		"ttl":        s.cfg.RegisterTTL.Seconds(),
	})
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	relays := make([]RelayInfo, 0, len(s.relays))
	for _, info := range s.relays {
		relays = append(relays, *info)
	}
	s.mu.RUnlock()

	sort.Slice(relays, func(i, j int) bool { return relays[i].Address < relays[j].Address })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"relays": relays,
		"count":  len(relays),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"relay_count": s.RelayCount(),
		"uptime_secs": int64(s.health.Uptime().Seconds()),
	})
}

func (s *Server) cleanupLoop() {
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-s.cleanupTicker.C:
			s.evictStale()
		}
	}
}

func (s *Server) evictStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var evicted int
	for addr, info := range s.relays {
		if now.Sub(info.LastSeen) > s.cfg.RegisterTTL {
			delete(s.relays, addr)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.Info().Int("evicted", evicted).Msg("Stale relays evicted")
	}
}
