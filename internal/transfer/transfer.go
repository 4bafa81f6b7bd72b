// Package transfer implements the chunked file protocol that runs over
// the established peer data channel: a pacing sender and a reassembling
// receiver, with per-transfer progress records.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/protocol"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Transfer is the visible record of one file moving in either
// direction. Progress is a monotonic 0–100 percentage.
type Transfer struct {
	ID        string
	Name      string
	Size      int64
	MimeType  string
	Direction Direction
	Status    Status
	Progress  int
}

func (t Transfer) terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled || t.Status == StatusError
}

// Channel is the send surface of the peer data channel. Control frames
// go out as text, chunk payloads as binary, and BufferedAmount is the
// pending-bytes counter the sender paces against.
type Channel interface {
	Send(data []byte) error
	SendText(data string) error
	BufferedAmount() uint64
}

// Options tunes the engine; zero values take the protocol constants.
// OnUpdate fires on every record change, OnFile when an inbound file is
// fully reassembled.
type Options struct {
	ChunkSize    int
	MaxBuffered  uint64
	PollInterval time.Duration
	Logger       *logrus.Logger
	OnUpdate     func(t Transfer)
	OnFile       func(t Transfer, data []byte)
}

// expectation marks that the next binary frame belongs to transfer id.
// Control and data frames strictly alternate per transfer, so a single
// slot suffices.
type expectation struct {
	id    string
	index int
}

type inbound struct {
	record   *Transfer
	chunks   [][]byte
	received int64
}

// Engine runs any number of concurrent transfers over one channel. The
// receive path is callback-driven and never blocks; each outbound
// transfer paces itself independently.
type Engine struct {
	channel Channel
	opts    Options
	logger  *logrus.Logger

	mu        sync.Mutex
	transfers map[string]*Transfer
	order     []string
	receiving map[string]*inbound
	expecting *expectation
	closed    bool

	// sendMu keeps each chunk's control frame and data frame adjacent
	// when transfers interleave
	sendMu sync.Mutex

	done chan struct{}
}

func NewEngine(channel Channel, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.ChunkSize
	}
	if opts.MaxBuffered == 0 {
		opts.MaxBuffered = protocol.MaxBufferedAmount
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = protocol.BufferPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		channel:   channel,
		opts:      opts,
		logger:    log,
		transfers: make(map[string]*Transfer),
		receiving: make(map[string]*inbound),
		done:      make(chan struct{}),
	}
}

// SendFile streams payload to the peer, blocking until the final frame
// is handed to the channel. Concurrent SendFile calls interleave safely.
func (e *Engine) SendFile(ctx context.Context, name, mimeType string, payload []byte) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	record := &Transfer{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      int64(len(payload)),
		MimeType:  mimeType,
		Direction: DirectionOutbound,
		Status:    StatusPending,
	}
	e.track(record)

	meta, err := protocol.BuildFileMeta(record.ID, name, record.Size, mimeType).Encode()
	if err != nil {
		return record.ID, e.fail(record.ID, err)
	}
	if err := e.channel.SendText(meta); err != nil {
		return record.ID, e.fail(record.ID, err)
	}

	e.update(record.ID, func(t *Transfer) { t.Status = StatusTransferring })

	totalChunks := (len(payload) + e.opts.ChunkSize - 1) / e.opts.ChunkSize
	for i := 0; i < totalChunks; i++ {
		if err := e.waitForDrain(ctx); err != nil {
			e.update(record.ID, func(t *Transfer) { t.Status = StatusCancelled })
			return record.ID, err
		}

		start := i * e.opts.ChunkSize
		end := start + e.opts.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}

		control, err := protocol.BuildFileChunk(record.ID, i).Encode()
		if err != nil {
			return record.ID, e.fail(record.ID, err)
		}

		e.sendMu.Lock()
		err = e.channel.SendText(control)
		if err == nil {
			err = e.channel.Send(payload[start:end])
		}
		e.sendMu.Unlock()
		if err != nil {
			return record.ID, e.fail(record.ID, err)
		}

		progress := (i + 1) * 100 / totalChunks
		e.update(record.ID, func(t *Transfer) { t.Progress = progress })
	}

	complete, err := protocol.BuildFileComplete(record.ID).Encode()
	if err != nil {
		return record.ID, e.fail(record.ID, err)
	}
	if err := e.channel.SendText(complete); err != nil {
		return record.ID, e.fail(record.ID, err)
	}

	e.update(record.ID, func(t *Transfer) {
		t.Status = StatusCompleted
		t.Progress = 100
	})
	return record.ID, nil
}

// waitForDrain polls the channel's pending bytes until they fall to the
// threshold or below. The poll is cooperative: other transfers and the
// receive path keep running while this one waits.
func (e *Engine) waitForDrain(ctx context.Context) error {
	for e.channel.BufferedAmount() > e.opts.MaxBuffered {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return fmt.Errorf("channel closed")
		case <-time.After(e.opts.PollInterval):
		}
	}
	return nil
}

// HandleMessage is the receive path, fed every inbound data-channel
// message. Text messages are control frames; each binary message is the
// chunk announced by the control frame immediately before it.
func (e *Engine) HandleMessage(data []byte, isString bool) {
	if !isString {
		e.handleChunkData(data)
		return
	}

	frame, err := protocol.DecodeControlFrame(data)
	if err != nil {
		e.logger.Warnf("Discarding malformed control frame: %v", err)
		return
	}

	switch frame.Type {
	case protocol.FrameFileMeta:
		e.handleMeta(frame)
	case protocol.FrameFileChunk:
		e.handleChunkHeader(frame)
	case protocol.FrameFileComplete:
		e.handleComplete(frame)
	default:
		e.logger.Warnf("Unknown control frame type %q", frame.Type)
	}
}

func (e *Engine) handleMeta(frame protocol.ControlFrame) {
	record := &Transfer{
		ID:        frame.ID,
		Name:      frame.Name,
		Size:      frame.Size,
		MimeType:  frame.MimeType,
		Direction: DirectionInbound,
		Status:    StatusTransferring,
	}

	e.mu.Lock()
	e.receiving[frame.ID] = &inbound{record: record}
	e.mu.Unlock()

	e.track(record)
	e.logger.Infof("Receiving %q (%d bytes)", frame.Name, frame.Size)
}

func (e *Engine) handleChunkHeader(frame protocol.ControlFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.receiving[frame.ID]; !ok {
		e.logger.Warnf("Chunk header for unknown transfer %s", frame.ID)
		return
	}
	e.expecting = &expectation{id: frame.ID, index: frame.Index}
}

func (e *Engine) handleChunkData(data []byte) {
	e.mu.Lock()
	exp := e.expecting
	e.expecting = nil
	if exp == nil {
		e.mu.Unlock()
		e.logger.Warn("Binary frame with no pending chunk header")
		return
	}
	in, ok := e.receiving[exp.id]
	if !ok {
		e.mu.Unlock()
		return
	}

	// the channel reuses its read buffer; keep our own copy
	chunk := make([]byte, len(data))
	copy(chunk, data)
	in.chunks = append(in.chunks, chunk)
	in.received += int64(len(chunk))

	received := in.received
	size := in.record.Size
	e.mu.Unlock()

	// progress comes from the size announced in the metadata, so the
	// sender's chunk size never matters here
	if size > 0 {
		progress := int(received * 100 / size)
		if progress > 100 {
			progress = 100
		}
		e.update(exp.id, func(t *Transfer) {
			if progress > t.Progress {
				t.Progress = progress
			}
		})
	}
}

func (e *Engine) handleComplete(frame protocol.ControlFrame) {
	e.mu.Lock()
	in, ok := e.receiving[frame.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.receiving, frame.ID)

	total := 0
	for _, chunk := range in.chunks {
		total += len(chunk)
	}
	data := make([]byte, 0, total)
	for _, chunk := range in.chunks {
		data = append(data, chunk...)
	}
	e.mu.Unlock()

	e.update(frame.ID, func(t *Transfer) {
		t.Status = StatusCompleted
		t.Progress = 100
	})

	record, _ := e.Lookup(frame.ID)
	e.logger.Infof("Completed %q (%d bytes)", record.Name, len(data))
	if e.opts.OnFile != nil {
		e.opts.OnFile(record, data)
	}
}

// Abort marks every non-terminal transfer as errored and stops all
// pacing loops. Called when the underlying channel closes.
func (e *Engine) Abort() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)

	var affected []Transfer
	for _, t := range e.transfers {
		if !t.terminal() {
			t.Status = StatusError
			affected = append(affected, *t)
		}
	}
	e.receiving = make(map[string]*inbound)
	e.expecting = nil
	e.mu.Unlock()

	for _, t := range affected {
		e.notify(t)
	}
}

// Transfers returns the records in creation order.
func (e *Engine) Transfers() []Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Transfer, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.transfers[id])
	}
	return out
}

// Lookup returns a snapshot of one record.
func (e *Engine) Lookup(id string) (Transfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// ClearCompleted removes completed records from the visible list. The
// only way records ever leave it.
func (e *Engine) ClearCompleted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.order[:0]
	for _, id := range e.order {
		if e.transfers[id].Status == StatusCompleted {
			delete(e.transfers, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

func (e *Engine) track(t *Transfer) {
	e.mu.Lock()
	e.transfers[t.ID] = t
	e.order = append(e.order, t.ID)
	snapshot := *t
	e.mu.Unlock()
	e.notify(snapshot)
}

func (e *Engine) update(id string, fn func(t *Transfer)) {
	e.mu.Lock()
	t, ok := e.transfers[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	fn(t)
	snapshot := *t
	e.mu.Unlock()
	e.notify(snapshot)
}

func (e *Engine) fail(id string, err error) error {
	e.logger.Warnf("Transfer %s failed: %v", id, err)
	e.update(id, func(t *Transfer) { t.Status = StatusError })
	return err
}

func (e *Engine) notify(t Transfer) {
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(t)
	}
}
