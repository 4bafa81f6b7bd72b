package room

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/r-file/rfile/internal/protocol"
)

type nullSink struct{}

func (nullSink) Deliver(protocol.ServerMessage) {}

func newPeer(id string) *Peer {
	return &Peer{ID: id, Sink: nullSink{}}
}

// checkConsistent verifies the bidirectional invariant between the room
// table and the peer index.
func checkConsistent(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	for peerID, code := range r.peerToRoom {
		rm, ok := r.rooms[code]
		if !ok {
			t.Fatalf("peer %s indexed to missing room %s", peerID, code)
		}
		if rm.Host.ID != peerID && (rm.Guest == nil || rm.Guest.ID != peerID) {
			t.Fatalf("peer %s indexed to room %s that does not contain it", peerID, code)
		}
	}
	for code, rm := range r.rooms {
		if r.peerToRoom[rm.Host.ID] != code {
			t.Fatalf("host %s of room %s not indexed", rm.Host.ID, code)
		}
		if rm.Guest != nil && r.peerToRoom[rm.Guest.ID] != code {
			t.Fatalf("guest %s of room %s not indexed", rm.Guest.ID, code)
		}
	}
}

func TestCreateAndJoin(t *testing.T) {
	r := NewRegistry(Config{})

	code, err := r.Create(newPeer("host"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("expected 6-character code, got %q", code)
	}

	rm, err := r.Join(code, newPeer("guest"))
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if rm.Host.ID != "host" {
		t.Errorf("expected host id 'host', got %q", rm.Host.ID)
	}
	if rm.Guest == nil || rm.Guest.ID != "guest" {
		t.Errorf("expected guest to be set")
	}

	checkConsistent(t, r)
}

func TestJoinCaseInsensitive(t *testing.T) {
	r := NewRegistry(Config{})

	code, err := r.Create(newPeer("host"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := r.Join(strings.ToLower(code), newPeer("guest")); err != nil {
		t.Errorf("lower-cased join failed: %v", err)
	}
}

func TestCreateAlreadyInRoom(t *testing.T) {
	r := NewRegistry(Config{})
	host := newPeer("host")

	if _, err := r.Create(host); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Create(host); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	i := 0
	r := NewRegistry(Config{Generate: func() string {
		code := codes[i%len(codes)]
		i++
		return code
	}})

	if _, err := r.Create(newPeer("p1")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	// generator now yields AAAAAA (taken) then BBBBBB
	code, err := r.Create(newPeer("p2"))
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if code != "BBBBBB" {
		t.Errorf("expected retry to land on BBBBBB, got %q", code)
	}
}

func TestCreateGenerationFailed(t *testing.T) {
	r := NewRegistry(Config{Generate: func() string { return "SAMECD" }})

	if _, err := r.Create(newPeer("p1")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := r.Create(newPeer("p2"))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	checkConsistent(t, r)
}

func TestJoinFailuresDoNotMutate(t *testing.T) {
	r := NewRegistry(Config{})

	if _, err := r.Join("NOSUCH", newPeer("guest")); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("failed join created state")
	}

	code, _ := r.Create(newPeer("host"))
	if _, err := r.Join(code, newPeer("g1")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := r.Join(code, newPeer("g2")); !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
	if _, ok := r.RoomByPeer("g2"); ok {
		t.Errorf("rejected guest should not be indexed")
	}

	// a peer already in one room cannot join another
	code2, _ := r.Create(newPeer("host2"))
	if _, err := r.Join(code2, newPeer("g1")); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom, got %v", err)
	}

	checkConsistent(t, r)
}

func TestHostLeaveCascades(t *testing.T) {
	r := NewRegistry(Config{})

	code, _ := r.Create(newPeer("host"))
	if _, err := r.Join(code, newPeer("guest")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	res, ok := r.Leave("host")
	if !ok {
		t.Fatal("expected Leave to report a result")
	}
	if !res.WasHost {
		t.Error("expected WasHost")
	}
	if res.Room.Guest == nil || res.Room.Guest.ID != "guest" {
		t.Error("snapshot should carry the evicted guest")
	}
	if r.Len() != 0 {
		t.Error("room should be destroyed")
	}
	if _, found := r.RoomByPeer("guest"); found {
		t.Error("guest index entry should be removed")
	}
	checkConsistent(t, r)
}

func TestGuestLeaveKeepsRoom(t *testing.T) {
	r := NewRegistry(Config{})

	code, _ := r.Create(newPeer("host"))
	if _, err := r.Join(code, newPeer("guest")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	res, ok := r.Leave("guest")
	if !ok {
		t.Fatal("expected Leave to report a result")
	}
	if res.WasHost {
		t.Error("expected WasHost false")
	}
	if r.Len() != 1 {
		t.Error("room should survive guest departure")
	}
	rm, found := r.RoomByPeer("host")
	if !found {
		t.Fatal("host should remain indexed")
	}
	if rm.Guest != nil {
		t.Error("guest slot should be cleared")
	}

	// slot is free again
	if _, err := r.Join(code, newPeer("guest2")); err != nil {
		t.Errorf("rejoining freed slot failed: %v", err)
	}
	checkConsistent(t, r)
}

func TestLeaveIdempotent(t *testing.T) {
	r := NewRegistry(Config{})

	if _, ok := r.Leave("ghost"); ok {
		t.Error("leave of unknown peer should be a no-op")
	}

	code, _ := r.Create(newPeer("host"))
	_ = code
	if _, ok := r.Leave("host"); !ok {
		t.Error("first leave should report a result")
	}
	if _, ok := r.Leave("host"); ok {
		t.Error("second leave should be a no-op")
	}
}

func TestSweepExpired(t *testing.T) {
	current := time.Unix(1000, 0)
	r := NewRegistry(Config{
		MaxAge: time.Hour,
		Now:    func() time.Time { return current },
	})

	code, _ := r.Create(newPeer("host"))
	if _, err := r.Join(code, newPeer("guest")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := r.Create(newPeer("young")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// age only the first room past the ceiling: recreate "young" later
	current = current.Add(30 * time.Minute)
	if _, ok := r.Leave("young"); !ok {
		t.Fatal("leave failed")
	}
	if _, err := r.Create(newPeer("young")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	current = current.Add(45 * time.Minute)
	swept := r.SweepExpired()
	if swept != 1 {
		t.Errorf("expected 1 room swept, got %d", swept)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 room remaining, got %d", r.Len())
	}
	if _, found := r.RoomByPeer("host"); found {
		t.Error("host of swept room should be unindexed")
	}
	if _, found := r.RoomByPeer("guest"); found {
		t.Error("guest of swept room should be unindexed")
	}
	checkConsistent(t, r)
}
