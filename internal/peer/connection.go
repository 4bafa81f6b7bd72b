// Package peer drives the negotiation handshake with the matched peer
// and owns the resulting data channel. Session descriptions and ICE
// candidates travel through the signaling relay as opaque JSON blobs.
package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// Signaler sends negotiation messages to the remote peer through the
// signaling connection.
type Signaler interface {
	SendOffer(targetID string, sdp json.RawMessage) error
	SendAnswer(targetID string, sdp json.RawMessage) error
	SendCandidate(targetID string, candidate json.RawMessage) error
}

// Events are the channel-level callbacks surfaced to the session. All
// fire on pion's internal goroutines.
type Events struct {
	OnOpen    func()
	OnClose   func()
	OnMessage func(data []byte, isString bool)
}

// Connection wraps one PeerConnection and its single data channel.
type Connection struct {
	remoteID string
	pc       *webrtc.PeerConnection
	signaler Signaler
	events   Events
	logger   *logrus.Logger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// NewConnection builds the peer connection targeting remoteID. The room
// creator then calls CreateOffer; the joiner waits for HandleOffer.
func NewConnection(remoteID string, signaler Signaler, events Events, logger *logrus.Logger) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(DefaultRTCConfig())
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	c := &Connection{
		remoteID: remoteID,
		pc:       pc,
		signaler: signaler,
		events:   events,
		logger:   logger,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Infof("Peer connection state: %s", state)
	})

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			return
		}
		blob, err := json.Marshal(ice.ToJSON())
		if err != nil {
			logger.Warnf("Failed to marshal ICE candidate: %v", err)
			return
		}
		if err := c.signaler.SendCandidate(c.remoteID, blob); err != nil {
			logger.Warnf("Failed to send ICE candidate: %v", err)
		}
	})

	// the answering side receives the channel the offerer announced
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.setupDataChannel(dc)
	})

	return c, nil
}

// CreateOffer starts negotiation as the room host. The data channel must
// exist before the offer is created so its description is part of the
// offer's SDP.
func (c *Connection) CreateOffer() error {
	dc, err := c.pc.CreateDataChannel(DataChannelLabel, DefaultDataChannelConfig())
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	c.setupDataChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	blob, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.signaler.SendOffer(c.remoteID, blob)
}

// HandleOffer completes negotiation as the room guest: it applies the
// host's offer and sends back an answer. The announced data channel
// arrives via OnDataChannel rather than being created here.
func (c *Connection) HandleOffer(sdp json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &offer); err != nil {
		return fmt.Errorf("parsing offer: %w", err)
	}

	if err := c.setRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	blob, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return c.signaler.SendAnswer(c.remoteID, blob)
}

// HandleAnswer applies the guest's answer on the offering side.
func (c *Connection) HandleAnswer(sdp json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &answer); err != nil {
		return fmt.Errorf("parsing answer: %w", err)
	}
	return c.setRemoteDescription(answer)
}

// HandleCandidate applies a remote ICE candidate. Candidates arriving
// before the remote description is set are queued and replayed once it
// is, since applying them earlier would fail.
func (c *Connection) HandleCandidate(blob json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(blob, &candidate); err != nil {
		return fmt.Errorf("parsing candidate: %w", err)
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.pc.AddICECandidate(candidate)
}

func (c *Connection) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range queued {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.logger.Warnf("Failed to apply queued candidate: %v", err)
		}
	}
	return nil
}

func (c *Connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Infof("Data channel %q open", dc.Label())
		if c.events.OnOpen != nil {
			c.events.OnOpen()
		}
	})

	dc.OnClose(func() {
		c.logger.Infof("Data channel %q closed", dc.Label())
		if c.events.OnClose != nil {
			c.events.OnClose()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.events.OnMessage != nil {
			c.events.OnMessage(msg.Data, msg.IsString)
		}
	})

	dc.OnError(func(err error) {
		c.logger.Warnf("Data channel error: %v", err)
	})
}

// Send transmits a binary frame on the data channel.
func (c *Connection) Send(data []byte) error {
	dc := c.channel()
	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.Send(data)
}

// SendText transmits a text frame on the data channel.
func (c *Connection) SendText(data string) error {
	dc := c.channel()
	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.SendText(data)
}

// BufferedAmount reports the channel's pending outbound bytes, the
// sender's backpressure signal.
func (c *Connection) BufferedAmount() uint64 {
	dc := c.channel()
	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

func (c *Connection) channel() *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

// RemoteID returns the peer id this connection negotiates with.
func (c *Connection) RemoteID() string {
	return c.remoteID
}

// Close tears down the channel and the peer connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	return c.pc.Close()
}
