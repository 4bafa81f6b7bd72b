// Package protocol defines the wire formats shared by the signaling
// server and the clients: the JSON signaling messages exchanged over the
// WebSocket, and the control frames of the data-channel file protocol.
package protocol

import "encoding/json"

// Client → server message types.
const (
	TypeCreateRoom   = "create-room"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Server → client message types.
const (
	TypeRoomCreated = "room-created"
	TypeRoomJoined  = "room-joined"
	TypePeerJoined  = "peer-joined"
	TypePeerLeft    = "peer-left"
	TypeError       = "error"
)

// Error codes carried by TypeError messages.
const (
	CodeAlreadyInRoom    = "ALREADY_IN_ROOM"
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomFull         = "ROOM_FULL"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeBlocked          = "BLOCKED"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeRateLimit        = "RATE_LIMIT"
)

// ClientMessage is the envelope for every inbound signaling message.
// SDP and Candidate are opaque blobs: the relay forwards them verbatim
// and never inspects their contents.
type ClientMessage struct {
	Type      string          `json:"type"`
	RoomCode  string          `json:"roomCode,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ServerMessage is the envelope for every outbound signaling message.
type ServerMessage struct {
	Type      string          `json:"type"`
	RoomCode  string          `json:"roomCode,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	HostID    string          `json:"hostId,omitempty"`
	FromID    string          `json:"fromId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func BuildRoomCreated(roomCode, peerID string) ServerMessage {
	return ServerMessage{Type: TypeRoomCreated, RoomCode: roomCode, PeerID: peerID}
}

func BuildRoomJoined(roomCode, peerID, hostID string) ServerMessage {
	return ServerMessage{Type: TypeRoomJoined, RoomCode: roomCode, PeerID: peerID, HostID: hostID}
}

func BuildPeerJoined(peerID string) ServerMessage {
	return ServerMessage{Type: TypePeerJoined, PeerID: peerID}
}

func BuildPeerLeft(peerID string) ServerMessage {
	return ServerMessage{Type: TypePeerLeft, PeerID: peerID}
}

func BuildError(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: message}
}
