package protocol

import "time"

const (
	// ChunkSize is the fixed payload size of every data frame except the
	// final chunk of a file. Both sides hardcode it; it is not negotiated.
	ChunkSize = 16 * 1024

	// MaxBufferedAmount is the backpressure trigger: the sender holds off
	// emitting data frames while the channel reports more pending bytes.
	MaxBufferedAmount = 16 * 1024 * 1024

	// BufferPollInterval is how long the sender sleeps between
	// pending-bytes polls while the buffer is above MaxBufferedAmount.
	BufferPollInterval = 50 * time.Millisecond
)

const (
	// RoomMaxAge is the absolute age ceiling after which the sweep
	// reclaims a room.
	RoomMaxAge = time.Hour

	// RoomSweepInterval is how often the server runs the room sweep.
	RoomSweepInterval = 5 * time.Minute
)
