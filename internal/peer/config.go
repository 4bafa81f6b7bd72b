package peer

import "github.com/pion/webrtc/v3"

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: defaultSTUNServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered: &ordered,
	}
}

// DataChannelLabel names the single channel carrying the file-transfer
// protocol. The host announces it in its offer.
const DataChannelLabel = "file-transfer"
