// Package guard implements the per-IP and per-peer abuse controls of the
// signaling server: connection caps, message-rate windows, and the join
// lockout that slows down room-code enumeration.
package guard

import (
	"sync"
	"time"
)

// Config tunes the guard. DefaultConfig matches production limits.
type Config struct {
	MaxConnsPerIP   int
	MaxMessages     int
	MessageWindow   time.Duration
	MaxJoinFailures int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnsPerIP:   5,
		MaxMessages:     60,
		MessageWindow:   time.Minute,
		MaxJoinFailures: 5,
		FailureWindow:   time.Minute,
		LockoutDuration: 5 * time.Minute,
	}
}

type window struct {
	count   int
	resetAt time.Time
}

type failureRecord struct {
	count        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// Guard holds all volatile abuse state. Everything is rebuilt from zero
// on restart.
type Guard struct {
	cfg Config

	mu       sync.Mutex
	conns    map[string]int
	windows  map[string]*window
	failures map[string]*failureRecord
}

func New(cfg Config) *Guard {
	return &Guard{
		cfg:      cfg,
		conns:    make(map[string]int),
		windows:  make(map[string]*window),
		failures: make(map[string]*failureRecord),
	}
}

// TryAdmit admits one more connection from ip, or rejects if the per-IP
// ceiling is reached. Every admitted connection must be paired with
// exactly one Release.
func (g *Guard) TryAdmit(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conns[ip] >= g.cfg.MaxConnsPerIP {
		return false
	}
	g.conns[ip]++
	return true
}

// Release returns ip's connection slot, evicting the entry at zero.
func (g *Guard) Release(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := g.conns[ip]
	if count <= 1 {
		delete(g.conns, ip)
		return
	}
	g.conns[ip] = count - 1
}

// TryConsume counts one message against ip's current window. A new
// window starts lazily on the first message after the previous deadline.
func (g *Guard) TryConsume(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	w, ok := g.windows[ip]
	if !ok || now.After(w.resetAt) {
		g.windows[ip] = &window{count: 1, resetAt: now.Add(g.cfg.MessageWindow)}
		return true
	}
	if w.count >= g.cfg.MaxMessages {
		return false
	}
	w.count++
	return true
}

// RecordFailure counts one failed join for the peer. Consecutive
// failures within the failure window accumulate; reaching the threshold
// starts the lockout.
func (g *Guard) RecordFailure(peerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	rec, ok := g.failures[peerID]
	if !ok || now.Sub(rec.lastFailure) > g.cfg.FailureWindow {
		g.failures[peerID] = &failureRecord{count: 1, lastFailure: now}
		return
	}
	rec.count++
	rec.lastFailure = now
	if rec.count >= g.cfg.MaxJoinFailures {
		rec.blockedUntil = now.Add(g.cfg.LockoutDuration)
	}
}

// IsBlocked reports whether the peer is under a join lockout. An expired
// lockout is purged lazily here, so the next failure starts a fresh
// count.
func (g *Guard) IsBlocked(peerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.failures[peerID]
	if !ok {
		return false
	}
	if rec.blockedUntil.IsZero() {
		return false
	}
	if time.Now().Before(rec.blockedUntil) {
		return true
	}
	delete(g.failures, peerID)
	return false
}

// ReapWindows evicts message windows whose deadline has passed, bounding
// memory from abandoned IPs. Meant to run on a fixed interval.
func (g *Guard) ReapWindows() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	count := 0
	for ip, w := range g.windows {
		if now.After(w.resetAt) {
			delete(g.windows, ip)
			count++
		}
	}
	return count
}
