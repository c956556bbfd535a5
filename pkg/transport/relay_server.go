package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/internal/ratelimit"
)

// RelayServerConfig tunes the UDP relay fallback server.
type RelayServerConfig struct {
	// ListenAddr is the UDP host:port to bind.
	ListenAddr string

	// MaxClients caps the registration table.
	MaxClients int

	// ClientTTL is how long a registration lives without traffic.
	ClientTTL time.Duration

	// CleanupInterval is how often stale registrations are evicted.
	CleanupInterval time.Duration

	// RateLimit is the per-IP limiter configuration; zero values disable
	// limiting.
	RateLimit ratelimit.Config
}

// DefaultRelayServerConfig returns stock settings.
func DefaultRelayServerConfig() RelayServerConfig {
	return RelayServerConfig{
		ListenAddr:      "0.0.0.0:4700",
		MaxClients:      10000,
		ClientTTL:       time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// relayClientEntry is one registered client.
type relayClientEntry struct {
	addr     *net.UDPAddr
	token    string
	lastSeen time.Time
}

// RelayServer forwards envelopes between registered clients. It never
// inspects packet contents; onion layers keep the payload opaque.
type RelayServer struct {
	cfg     RelayServerConfig
	clk     clock.Clock
	log     *logging.Logger
	metrics *metrics.PrometheusMetrics
	limiter *ratelimit.Limiter

	mu      sync.RWMutex
	clients map[string]*relayClientEntry

	conn   *net.UDPConn
	stopCh chan struct{}
	doneWg sync.WaitGroup
}

// NewRelayServer creates a relay server.
func NewRelayServer(cfg RelayServerConfig, clk clock.Clock, log *logging.Logger, m *metrics.PrometheusMetrics) *RelayServer {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}

	return &RelayServer{
		cfg:     cfg,
		clk:     clk,
		log:     log.WithComponent("relay-server"),
		metrics: m,
		limiter: limiter,
		clients: make(map[string]*relayClientEntry),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the socket and begins serving.
func (s *RelayServer) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: resolve %s: %w", s.cfg.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("relay: bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.conn = conn

	s.doneWg.Add(2)
	go s.serveLoop()
	go s.cleanupLoop()

	s.log.Info().Str("listen", s.cfg.ListenAddr).Msg("Relay server started")
	return nil
}

// Stop shuts the server down.
func (s *RelayServer) Stop() {
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	s.doneWg.Wait()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.log.Info().Msg("Relay server stopped")
}

// LocalAddr returns the bound UDP address, for tests and logs.
func (s *RelayServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ClientCount returns the number of registered clients.
func (s *RelayServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *RelayServer) serveLoop() {
	defer s.doneWg.Done()

	buf := make([]byte, maxRelayDatagram)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Warn().Err(err).Msg("Read failed")
				continue
			}
		}

		if s.limiter != nil && !s.limiter.Allow(src.IP.String()) {
			if s.metrics != nil {
				s.metrics.RateLimitHits.Inc()
			}
			continue
		}

		var env RelayEnvelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			s.dropPacket("malformed envelope")
			continue
		}

		s.handleEnvelope(&env, src)
	}
}

func (s *RelayServer) handleEnvelope(env *RelayEnvelope, src *net.UDPAddr) {
	if env.Source == "" || env.AuthToken == "" {
		s.dropPacket("missing source or token")
		return
	}

	s.register(env.Source, env.AuthToken, src)

	// A registration-only datagram carries no destination.
	if env.Destination == "" {
		return
	}

	s.mu.RLock()
	dest, ok := s.clients[env.Destination]
	s.mu.RUnlock()
	if !ok {
		s.dropPacket("unknown destination")
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.dropPacket("re-encode failed")
		return
	}
	if _, err := s.conn.WriteToUDP(data, dest.addr); err != nil {
		s.log.WithAddress(env.Destination).Warn().Err(err).Msg("Forward failed")
		return
	}

	if s.metrics != nil {
		s.metrics.PacketsForwarded.Inc()
	}
}

func (s *RelayServer) register(address, token string, src *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.clients[address]
	if exists {
		entry.addr = src
		entry.token = token
		entry.lastSeen = s.clk.Now()
		return
	}

	if len(s.clients) >= s.cfg.MaxClients {
		s.log.Warn().Int("max", s.cfg.MaxClients).Msg("Client table full")
		return
	}

	s.clients[address] = &relayClientEntry{
		addr:     src,
		token:    token,
		lastSeen: s.clk.Now(),
	}
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}
	s.log.WithAddress(address).Debug().Msg("Client registered")
}

func (s *RelayServer) cleanupLoop() {
	defer s.doneWg.Done()

	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictStale()
		}
	}
}

func (s *RelayServer) evictStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	var evicted int
	for address, entry := range s.clients {
		if now.Sub(entry.lastSeen) > s.cfg.ClientTTL {
			delete(s.clients, address)
			evicted++
			if s.metrics != nil {
				s.metrics.ActiveConnections.Dec()
			}
		}
	}

	if evicted > 0 {
		s.log.Info().
			Int("evicted", evicted).
			Int("remaining", len(s.clients)).
			Msg("Stale clients evicted")
	}
}

func (s *RelayServer) dropPacket(reason string) {
	if s.metrics != nil {
		s.metrics.PacketsDropped.Inc()
	}
	s.log.Debug().Str("reason", reason).Msg("Packet dropped")
}
