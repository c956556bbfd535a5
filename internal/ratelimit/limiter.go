// Package ratelimit guards the relay and directory endpoints with
// per-source token buckets. A source that keeps hammering a drained
// bucket is banned, and repeat offenders are banned for progressively
// longer: relays see the same abusive peers come back, so ban history
// is kept per source rather than reset on expiry.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxBanShift caps ban escalation at 2^6 times the base duration.
const maxBanShift = 6

// Config holds rate limiter configuration
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration

	// BanDuration is the first ban; each further ban doubles it.
	BanDuration time.Duration

	// MaxViolations is how many drained-bucket hits earn a ban.
	MaxViolations int
}

// source is the full limiting state for one client: its token bucket,
// the strike count toward the next ban, and its ban history.
type source struct {
	bucket      *rate.Limiter
	strikes     int
	bans        int
	bannedUntil time.Time
	lastSeen    time.Time
}

// Limiter implements per-source rate limiting with escalating bans
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	sources map[string]*source
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLimiter creates a new rate limiter
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 100
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = 15 * time.Minute
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 5
	}

	l := &Limiter{
		cfg:     cfg,
		sources: make(map[string]*source),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go l.janitor()

	return l
}

// Allow checks whether a request from the given source may proceed.
func (l *Limiter) Allow(src string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	s := l.sources[src]
	if s == nil {
		s = &source{
			bucket: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize),
		}
		l.sources[src] = s
	}
	s.lastSeen = now

	if now.Before(s.bannedUntil) {
		return false
	}

	if s.bucket.Allow() {
		s.strikes = 0
		return true
	}

	s.strikes++
	if s.strikes >= l.cfg.MaxViolations {
		s.strikes = 0
		s.bannedUntil = now.Add(l.banFor(s.bans))
		s.bans++
	}
	return false
}

// banFor returns the ban length for a source with the given number of
// prior bans.
func (l *Limiter) banFor(priorBans int) time.Duration {
	if priorBans > maxBanShift {
		priorBans = maxBanShift
	}
	return l.cfg.BanDuration << priorBans
}

// IsBanned reports whether a source is currently banned
func (l *Limiter) IsBanned(src string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.sources[src]
	return s != nil && time.Now().Before(s.bannedUntil)
}

// Stats holds current limiter counts
type Stats struct {
	ActiveSources int
	BannedSources int
}

// Stats returns limiter statistics
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st := Stats{ActiveSources: len(l.sources)}
	for _, s := range l.sources {
		if now.Before(s.bannedUntil) {
			st.BannedSources++
		}
	}
	return st
}

// Stop stops the limiter janitor goroutine
func (l *Limiter) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// janitor periodically drops sources that are idle and unbanned. Banned
// sources are kept so their ban history survives until they go quiet for
// the full ban term.
func (l *Limiter) janitor() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for src, s := range l.sources {
		if now.Before(s.bannedUntil) {
			continue
		}
		if now.Sub(s.lastSeen) > l.cfg.CleanupInterval*2 {
			delete(l.sources, src)
		}
	}
}
