package signaling

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/guard"
	"github.com/r-file/rfile/internal/protocol"
	"github.com/r-file/rfile/internal/room"
)

// outboundQueueSize bounds each connection's send queue. A peer that
// cannot drain it loses messages rather than stalling the relay.
const outboundQueueSize = 32

// session is the per-connection relay state machine. It owns the read
// loop; a separate writer goroutine drains the outbound queue so that
// deliveries from other sessions never block on this peer's socket.
type session struct {
	peerID string
	ip     string
	conn   *websocket.Conn
	rooms  *room.Registry
	guard  *guard.Guard
	logger *logrus.Logger

	// outMu orders Deliver against shutdown: other sessions may still
	// hold this peer's Sink through a room snapshot after run() returns.
	outMu     sync.Mutex
	out       chan protocol.ServerMessage
	outClosed bool
}

func newSession(conn *websocket.Conn, ip string, rooms *room.Registry, g *guard.Guard, logger *logrus.Logger) *session {
	return &session{
		peerID: uuid.NewString(),
		ip:     ip,
		conn:   conn,
		rooms:  rooms,
		guard:  g,
		logger: logger,
		out:    make(chan protocol.ServerMessage, outboundQueueSize),
	}
}

// Deliver queues a message for this peer. Never blocks; a full queue
// drops the message, and a session that has already shut down swallows
// it, since a racing sender is just losing the disconnect race.
func (s *session) Deliver(msg protocol.ServerMessage) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.outClosed {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.logger.Warnf("Dropping %s message to peer %s: queue full", msg.Type, s.peerID)
	}
}

func (s *session) run() {
	writerDone := make(chan struct{})
	go s.writeLoop(writerDone)

	s.readLoop()

	// connection closed for any reason: identical to an explicit leave
	s.handleLeave()

	s.outMu.Lock()
	s.outClosed = true
	close(s.out)
	s.outMu.Unlock()

	<-writerDone
	_ = s.conn.Close()
}

func (s *session) writeLoop(done chan struct{}) {
	defer close(done)
	for msg := range s.out {
		if err := s.conn.WriteJSON(msg); err != nil {
			s.logger.Debugf("Write to peer %s failed: %v", s.peerID, err)
			return
		}
	}
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("Read from peer %s failed: %v", s.peerID, err)
			}
			return
		}

		if !s.guard.TryConsume(s.ip) {
			s.logger.Infof("Throttling peer %s (%s)", s.peerID, s.ip)
			s.Deliver(protocol.BuildError(protocol.CodeRateLimit, "too many messages, slow down"))
			continue
		}

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Deliver(protocol.BuildError(protocol.CodeInvalidMessage, "invalid message format"))
			continue
		}

		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeCreateRoom:
		s.handleCreate()
	case protocol.TypeJoinRoom:
		s.handleJoin(msg.RoomCode)
	case protocol.TypeLeaveRoom:
		s.handleLeave()
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		s.forward(msg)
	default:
		s.Deliver(protocol.BuildError(protocol.CodeInvalidMessage, "unknown message type"))
	}
}

func (s *session) handleCreate() {
	code, err := s.rooms.Create(&room.Peer{ID: s.peerID, Sink: s})
	if err != nil {
		s.Deliver(registryError(err))
		return
	}
	s.logger.Infof("Room %s created by peer %s", code, s.peerID)
	s.Deliver(protocol.BuildRoomCreated(code, s.peerID))
}

func (s *session) handleJoin(code string) {
	if s.guard.IsBlocked(s.peerID) {
		s.Deliver(protocol.BuildError(protocol.CodeBlocked, "too many failed attempts, try again later"))
		return
	}

	rm, err := s.rooms.Join(code, &room.Peer{ID: s.peerID, Sink: s})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			// guards against room-code enumeration
			s.guard.RecordFailure(s.peerID)
		}
		s.Deliver(registryError(err))
		return
	}

	s.logger.Infof("Peer %s joined room %s", s.peerID, rm.Code)
	s.Deliver(protocol.BuildRoomJoined(rm.Code, s.peerID, rm.Host.ID))
	rm.Host.Sink.Deliver(protocol.BuildPeerJoined(s.peerID))
}

func (s *session) handleLeave() {
	res, ok := s.rooms.Leave(s.peerID)
	if !ok {
		return
	}

	s.logger.Infof("Peer %s left room %s", s.peerID, res.Room.Code)
	if res.WasHost {
		if res.Room.Guest != nil {
			res.Room.Guest.Sink.Deliver(protocol.BuildPeerLeft(s.peerID))
		}
	} else {
		res.Room.Host.Sink.Deliver(protocol.BuildPeerLeft(s.peerID))
	}
}

// forward relays a negotiation payload verbatim to the declared target.
// A sender with no room, or a target that is not the room's host or
// guest, is a benign race from a torn-down room: the message is dropped
// without an error.
func (s *session) forward(msg protocol.ClientMessage) {
	rm, ok := s.rooms.RoomByPeer(s.peerID)
	if !ok {
		return
	}

	var target *room.Peer
	switch {
	case rm.Host.ID == msg.TargetID:
		target = rm.Host
	case rm.Guest != nil && rm.Guest.ID == msg.TargetID:
		target = rm.Guest
	default:
		return
	}

	target.Sink.Deliver(protocol.ServerMessage{
		Type:      msg.Type,
		FromID:    s.peerID,
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
	})
}

func registryError(err error) protocol.ServerMessage {
	switch {
	case errors.Is(err, room.ErrAlreadyInRoom):
		return protocol.BuildError(protocol.CodeAlreadyInRoom, "already in a room")
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.BuildError(protocol.CodeRoomNotFound, "room not found")
	case errors.Is(err, room.ErrRoomFull):
		return protocol.BuildError(protocol.CodeRoomFull, "room is full")
	case errors.Is(err, room.ErrGenerationFailed):
		return protocol.BuildError(protocol.CodeGenerationFailed, "could not generate a room code")
	default:
		return protocol.BuildError(protocol.CodeInvalidMessage, err.Error())
	}
}
