// Package room holds the in-memory registry of two-party rendezvous
// rooms keyed by short shareable codes.
package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/r-file/rfile/internal/codegen"
	"github.com/r-file/rfile/internal/protocol"
)

var (
	ErrAlreadyInRoom    = errors.New("peer is already in a room")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrGenerationFailed = errors.New("could not generate a unique room code")
)

// createAttempts bounds the code-collision retries before Create fails
// closed with ErrGenerationFailed.
const createAttempts = 10

// Sink is the outbound message queue of a connected peer. Delivery is
// fire-and-forget; the registry never blocks on a slow peer.
type Sink interface {
	Deliver(msg protocol.ServerMessage)
}

// Peer is the ephemeral connection-scoped identity occupying a room
// slot. Immutable after creation.
type Peer struct {
	ID   string
	Sink Sink
}

// Room is a two-party session. Guest is nil until someone joins.
type Room struct {
	Code      string
	Host      *Peer
	Guest     *Peer
	CreatedAt time.Time
}

// LeaveResult reports what Leave removed. Room is a snapshot taken
// before the mutation, so a host departure still carries the evicted
// guest.
type LeaveResult struct {
	Room    Room
	WasHost bool
}

// Config tunes the registry. The zero value is usable; Generate and Now
// default to the production implementations.
type Config struct {
	MaxAge   time.Duration
	Generate func() string
	Now      func() time.Time
}

// Registry maps room codes to rooms and peers to the single room they
// occupy. Every mutation keeps the two maps consistent under one mutex.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	peerToRoom map[string]string

	maxAge   time.Duration
	generate func() string
	now      func() time.Time
}

func NewRegistry(cfg Config) *Registry {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = protocol.RoomMaxAge
	}
	if cfg.Generate == nil {
		cfg.Generate = codegen.Generate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		peerToRoom: make(map[string]string),
		maxAge:     cfg.MaxAge,
		generate:   cfg.Generate,
		now:        cfg.Now,
	}
}

// Create opens a new room hosted by peer and returns its code.
func (r *Registry) Create(peer *Peer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peerToRoom[peer.ID]; exists {
		return "", ErrAlreadyInRoom
	}

	code := ""
	for i := 0; i < createAttempts; i++ {
		candidate := r.generate()
		if _, taken := r.rooms[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return "", ErrGenerationFailed
	}

	r.rooms[code] = &Room{
		Code:      code,
		Host:      peer,
		CreatedAt: r.now(),
	}
	r.peerToRoom[peer.ID] = code

	return code, nil
}

// Join fills the guest slot of the room identified by code. Codes
// compare case-insensitively. Failures never mutate registry state.
func (r *Registry) Join(code string, peer *Peer) (Room, error) {
	code = strings.ToUpper(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if rm.Guest != nil {
		return Room{}, ErrRoomFull
	}
	if _, exists := r.peerToRoom[peer.ID]; exists {
		return Room{}, ErrAlreadyInRoom
	}

	rm.Guest = peer
	r.peerToRoom[peer.ID] = code

	return *rm, nil
}

// Leave removes the peer from its room. A departing host destroys the
// room and evicts any guest; a departing guest leaves the room and host
// intact. Returns false if the peer occupies no room, making repeated
// calls a silent no-op.
func (r *Registry) Leave(peerID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.peerToRoom[peerID]
	if !ok {
		return LeaveResult{}, false
	}
	rm, ok := r.rooms[code]
	if !ok {
		// index pointed at a missing room; drop the stale entry
		delete(r.peerToRoom, peerID)
		return LeaveResult{}, false
	}

	snapshot := *rm
	wasHost := rm.Host.ID == peerID

	delete(r.peerToRoom, peerID)
	if wasHost {
		if rm.Guest != nil {
			delete(r.peerToRoom, rm.Guest.ID)
		}
		delete(r.rooms, code)
	} else {
		rm.Guest = nil
	}

	return LeaveResult{Room: snapshot, WasHost: wasHost}, true
}

// RoomByPeer returns a snapshot of the room the peer currently occupies.
func (r *Registry) RoomByPeer(peerID string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.peerToRoom[peerID]
	if !ok {
		return Room{}, false
	}
	rm, ok := r.rooms[code]
	if !ok {
		return Room{}, false
	}
	return *rm, true
}

// SweepExpired removes every room older than the configured maximum age,
// cleaning both index entries. Safety net against rooms orphaned by
// ungraceful disconnects.
func (r *Registry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	count := 0
	for code, rm := range r.rooms {
		if now.Sub(rm.CreatedAt) <= r.maxAge {
			continue
		}
		delete(r.peerToRoom, rm.Host.ID)
		if rm.Guest != nil {
			delete(r.peerToRoom, rm.Guest.ID)
		}
		delete(r.rooms, code)
		count++
	}
	return count
}

// Len reports how many rooms are currently open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
