// Package client implements the command-line peer: the signaling
// session, the negotiation flows for both sides of a room, and the
// file send/receive orchestration on top of the transfer engine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/protocol"
)

// Session is one client connection to the signaling server. It also
// implements peer.Signaler so negotiation messages flow through it.
type Session struct {
	conn   *websocket.Conn
	logger *logrus.Logger

	writeMu sync.Mutex

	incoming chan protocol.ServerMessage
	readErr  error
	readDone chan struct{}

	closeOnce sync.Once
}

// Dial connects to the signaling endpoint and starts the read loop.
func Dial(ctx context.Context, serverURL string, logger *logrus.Logger) (*Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s := &Session{
		conn:     conn,
		logger:   logger,
		incoming: make(chan protocol.ServerMessage, 16),
		readDone: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	defer close(s.readDone)
	defer close(s.incoming)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnf("Discarding unparseable server message: %v", err)
			continue
		}
		s.incoming <- msg
	}
}

// Next blocks for the next server message.
func (s *Session) Next(ctx context.Context) (protocol.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return protocol.ServerMessage{}, ctx.Err()
	case msg, ok := <-s.incoming:
		if !ok {
			return protocol.ServerMessage{}, fmt.Errorf("signaling connection closed: %w", s.readErr)
		}
		return msg, nil
	}
}

func (s *Session) send(msg protocol.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// CreateRoom asks the server for a fresh room and returns its code.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	if err := s.send(protocol.ClientMessage{Type: protocol.TypeCreateRoom}); err != nil {
		return "", err
	}

	msg, err := s.Next(ctx)
	if err != nil {
		return "", err
	}
	switch msg.Type {
	case protocol.TypeRoomCreated:
		return msg.RoomCode, nil
	case protocol.TypeError:
		return "", fmt.Errorf("server rejected room creation: %s", msg.Message)
	default:
		return "", fmt.Errorf("unexpected reply %q to create-room", msg.Type)
	}
}

// JoinRoom enters an existing room and returns the host's peer id.
func (s *Session) JoinRoom(ctx context.Context, code string) (string, error) {
	msg := protocol.ClientMessage{
		Type:     protocol.TypeJoinRoom,
		RoomCode: strings.ToUpper(strings.TrimSpace(code)),
	}
	if err := s.send(msg); err != nil {
		return "", err
	}

	reply, err := s.Next(ctx)
	if err != nil {
		return "", err
	}
	switch reply.Type {
	case protocol.TypeRoomJoined:
		return reply.HostID, nil
	case protocol.TypeError:
		return "", fmt.Errorf("could not join room: %s", reply.Message)
	default:
		return "", fmt.Errorf("unexpected reply %q to join-room", reply.Type)
	}
}

// AwaitPeer blocks until a guest joins the hosted room.
func (s *Session) AwaitPeer(ctx context.Context) (string, error) {
	for {
		msg, err := s.Next(ctx)
		if err != nil {
			return "", err
		}
		switch msg.Type {
		case protocol.TypePeerJoined:
			return msg.PeerID, nil
		case protocol.TypeError:
			return "", fmt.Errorf("server error while waiting: %s", msg.Message)
		}
	}
}

// SendOffer implements peer.Signaler.
func (s *Session) SendOffer(targetID string, sdp json.RawMessage) error {
	return s.send(protocol.ClientMessage{
		Type:     protocol.TypeOffer,
		TargetID: targetID,
		SDP:      sdp,
	})
}

// SendAnswer implements peer.Signaler.
func (s *Session) SendAnswer(targetID string, sdp json.RawMessage) error {
	return s.send(protocol.ClientMessage{
		Type:     protocol.TypeAnswer,
		TargetID: targetID,
		SDP:      sdp,
	})
}

// SendCandidate implements peer.Signaler.
func (s *Session) SendCandidate(targetID string, candidate json.RawMessage) error {
	return s.send(protocol.ClientMessage{
		Type:      protocol.TypeICECandidate,
		TargetID:  targetID,
		Candidate: candidate,
	})
}

// Leave tells the server this peer is done with its room.
func (s *Session) Leave() error {
	return s.send(protocol.ClientMessage{Type: protocol.TypeLeaveRoom})
}

// Close shuts the websocket down and waits for the read loop to stop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		<-s.readDone
	})
	return err
}
