package transfer

import (
	"bytes"
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r-file/rfile/internal/logger"
)

// loopbackChannel delivers every frame straight into a receiving
// engine, standing in for an open data channel.
type loopbackChannel struct {
	mu       sync.Mutex
	receiver *Engine
	buffered atomic.Uint64
	frames   []string
}

func (c *loopbackChannel) Send(data []byte) error {
	c.record("binary")
	if c.receiver != nil {
		c.receiver.HandleMessage(data, false)
	}
	return nil
}

func (c *loopbackChannel) SendText(data string) error {
	c.record("text")
	if c.receiver != nil {
		c.receiver.HandleMessage([]byte(data), true)
	}
	return nil
}

func (c *loopbackChannel) BufferedAmount() uint64 {
	return c.buffered.Load()
}

func (c *loopbackChannel) record(kind string) {
	c.mu.Lock()
	c.frames = append(c.frames, kind)
	c.mu.Unlock()
}

func (c *loopbackChannel) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func pair(t *testing.T, opts Options) (*Engine, *Engine, chan []byte) {
	t.Helper()

	received := make(chan []byte, 4)
	channel := &loopbackChannel{}
	receiver := NewEngine(nil, Options{
		Logger: logger.NewQuietLogger(),
		OnFile: func(_ Transfer, data []byte) { received <- data },
	})
	channel.receiver = receiver

	opts.Logger = logger.NewQuietLogger()
	sender := NewEngine(channel, opts)
	return sender, receiver, received
}

func TestRoundTripSizes(t *testing.T) {
	cases := map[string]int{
		"empty":         0,
		"below chunk":   100,
		"exactly chunk": 64,
		"many chunks":   64 * 5,
		"partial final": 64*3 + 17,
		"one byte":      1,
	}

	for name, size := range cases {
		t.Run(name, func(t *testing.T) {
			sender, receiver, received := pair(t, Options{ChunkSize: 64})

			payload := bytes.Repeat([]byte{0xAB}, size)
			id, err := sender.SendFile(context.Background(), "blob.bin", "", payload)
			if err != nil {
				t.Fatalf("SendFile failed: %v", err)
			}

			select {
			case data := <-received:
				if !bytes.Equal(data, payload) {
					t.Fatalf("received %d bytes, sent %d", len(data), len(payload))
				}
			case <-time.After(time.Second):
				t.Fatal("receiver never delivered the file")
			}

			out, ok := sender.Lookup(id)
			if !ok || out.Status != StatusCompleted || out.Progress != 100 {
				t.Errorf("sender record = %+v, want completed at 100", out)
			}

			in, ok := receiver.Lookup(id)
			if !ok || in.Status != StatusCompleted {
				t.Errorf("receiver record = %+v, want completed", in)
			}
			if in.Direction != DirectionInbound {
				t.Errorf("receiver direction = %q", in.Direction)
			}
			if in.Name != "blob.bin" || in.Size != int64(size) {
				t.Errorf("metadata not carried: %+v", in)
			}
		})
	}
}

func TestDefaultMimeType(t *testing.T) {
	sender, receiver, received := pair(t, Options{ChunkSize: 64})

	id, err := sender.SendFile(context.Background(), "raw", "", []byte("data"))
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	<-received

	in, _ := receiver.Lookup(id)
	if in.MimeType != "application/octet-stream" {
		t.Errorf("mime type = %q", in.MimeType)
	}
}

func TestInterleavedTransfers(t *testing.T) {
	sender, _, received := pair(t, Options{ChunkSize: 32})

	first := bytes.Repeat([]byte{1}, 32*4)
	second := bytes.Repeat([]byte{2}, 32*7+5)

	var wg sync.WaitGroup
	for _, payload := range [][]byte{first, second} {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			if _, err := sender.SendFile(context.Background(), "f", "", p); err != nil {
				t.Errorf("SendFile failed: %v", err)
			}
		}(payload)
	}
	wg.Wait()

	var got [][]byte
	for i := 0; i < 2; i++ {
		select {
		case data := <-received:
			got = append(got, data)
		case <-time.After(time.Second):
			t.Fatal("missing a reassembled file")
		}
	}

	// delivery order is not fixed, content must survive interleaving
	if len(got[0]) > len(got[1]) {
		got[0], got[1] = got[1], got[0]
	}
	if !bytes.Equal(got[0], first) || !bytes.Equal(got[1], second) {
		t.Fatal("interleaved payloads corrupted")
	}
}

func TestBackpressureHoldsChunks(t *testing.T) {
	sender, _, _ := pair(t, Options{
		ChunkSize:    16,
		MaxBuffered:  1024,
		PollInterval: 5 * time.Millisecond,
	})
	channel := sender.channel.(*loopbackChannel)
	channel.buffered.Store(4096)

	done := make(chan error, 1)
	go func() {
		_, err := sender.SendFile(context.Background(), "slow", "", make([]byte, 16*3))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	// only the metadata frame may have gone out while saturated
	if n := channel.frameCount(); n > 1 {
		t.Fatalf("%d frames sent against a saturated channel", n)
	}

	channel.buffered.Store(0)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendFile failed after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sender never resumed after drain")
	}
	// meta + 3 control/binary pairs + complete
	if n := channel.frameCount(); n != 8 {
		t.Fatalf("frame count = %d, want 8", n)
	}
}

func TestCancelDuringBackpressure(t *testing.T) {
	sender, _, _ := pair(t, Options{
		ChunkSize:    16,
		MaxBuffered:  1024,
		PollInterval: 5 * time.Millisecond,
	})
	sender.channel.(*loopbackChannel).buffered.Store(4096)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var id string
	go func() {
		defer close(done)
		var err error
		id, err = sender.SendFile(ctx, "stuck", "", make([]byte, 16*2))
		if err == nil {
			t.Error("cancelled SendFile should return an error")
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendFile did not observe cancellation")
	}

	record, _ := sender.Lookup(id)
	if record.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", record.Status)
	}
}

func TestAbortMarksActiveTransfers(t *testing.T) {
	sender, _, _ := pair(t, Options{
		ChunkSize:    16,
		MaxBuffered:  1024,
		PollInterval: 5 * time.Millisecond,
	})
	sender.channel.(*loopbackChannel).buffered.Store(4096)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sender.SendFile(context.Background(), "doomed", "", make([]byte, 16))
	}()

	time.Sleep(20 * time.Millisecond)
	sender.Abort()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendFile did not observe Abort")
	}

	transfers := sender.Transfers()
	if len(transfers) != 1 {
		t.Fatalf("expected 1 record, got %d", len(transfers))
	}
	if s := transfers[0].Status; s != StatusCancelled && s != StatusError {
		t.Errorf("status after abort = %q", s)
	}
	// a second Abort is a no-op
	sender.Abort()
}

func TestClearCompleted(t *testing.T) {
	sender, _, received := pair(t, Options{ChunkSize: 64})

	if _, err := sender.SendFile(context.Background(), "done", "", []byte("x")); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	<-received

	if len(sender.Transfers()) != 1 {
		t.Fatal("expected one record before clearing")
	}
	sender.ClearCompleted()
	if len(sender.Transfers()) != 0 {
		t.Fatal("completed record should be removed")
	}
}

func TestStrayFramesIgnored(t *testing.T) {
	receiver := NewEngine(nil, Options{Logger: logger.NewQuietLogger()})

	// binary with no preceding chunk header
	receiver.HandleMessage([]byte{1, 2, 3}, false)
	// chunk header for a transfer never announced
	receiver.HandleMessage([]byte(`{"type":"file-chunk","id":"ghost","index":0}`), true)
	// complete for a transfer never announced
	receiver.HandleMessage([]byte(`{"type":"file-complete","id":"ghost"}`), true)
	// not JSON at all
	receiver.HandleMessage([]byte("garbage"), true)

	if len(receiver.Transfers()) != 0 {
		t.Fatal("stray frames must not create records")
	}
}

// Receiver progress must follow the size announced in the metadata;
// the receiver's own chunk-size setting plays no part in it.
func TestReceiverProgressIgnoresLocalChunkSize(t *testing.T) {
	var mu sync.Mutex
	var progress []int
	channel := &loopbackChannel{}
	receiver := NewEngine(nil, Options{
		ChunkSize: 1000,
		Logger:    logger.NewQuietLogger(),
		OnUpdate: func(tr Transfer) {
			if tr.Direction == DirectionInbound {
				mu.Lock()
				progress = append(progress, tr.Progress)
				mu.Unlock()
			}
		},
	})
	channel.receiver = receiver
	sender := NewEngine(channel, Options{ChunkSize: 25, Logger: logger.NewQuietLogger()})

	if _, err := sender.SendFile(context.Background(), "quarters", "", make([]byte, 100)); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	// meta, four 25-byte chunks, complete
	want := []int{0, 25, 50, 75, 100, 100}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(progress, want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
}

func TestProgressUpdatesMonotonic(t *testing.T) {
	var mu sync.Mutex
	var progress []int
	channel := &loopbackChannel{}
	sender := NewEngine(channel, Options{
		ChunkSize: 16,
		Logger:    logger.NewQuietLogger(),
		OnUpdate: func(t Transfer) {
			if t.Direction == DirectionOutbound {
				mu.Lock()
				progress = append(progress, t.Progress)
				mu.Unlock()
			}
		},
	})

	if _, err := sender.SendFile(context.Background(), "p", "", make([]byte, 16*4)); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress regressed: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("final progress = %d", progress[len(progress)-1])
	}
}
