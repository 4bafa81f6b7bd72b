package protocol

import "encoding/json"

// Data-channel control frame types. Control frames travel as text
// messages; chunk payloads travel as the binary message immediately
// following their FrameFileChunk control frame.
const (
	FrameFileMeta     = "file-meta"
	FrameFileChunk    = "file-chunk"
	FrameFileComplete = "file-complete"
)

// ControlFrame is the JSON control message of the file-transfer
// protocol. Name, Size and MimeType are set only on FrameFileMeta;
// Index only on FrameFileChunk.
type ControlFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Index    int    `json:"index"`
}

func BuildFileMeta(id, name string, size int64, mimeType string) ControlFrame {
	return ControlFrame{Type: FrameFileMeta, ID: id, Name: name, Size: size, MimeType: mimeType}
}

func BuildFileChunk(id string, index int) ControlFrame {
	return ControlFrame{Type: FrameFileChunk, ID: id, Index: index}
}

func BuildFileComplete(id string) ControlFrame {
	return ControlFrame{Type: FrameFileComplete, ID: id}
}

// Encode marshals the frame for DataChannel.SendText.
func (f ControlFrame) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeControlFrame parses an inbound text message from the data
// channel.
func DecodeControlFrame(data []byte) (ControlFrame, error) {
	var f ControlFrame
	err := json.Unmarshal(data, &f)
	return f, err
}
