package client

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/peer"
	"github.com/r-file/rfile/internal/protocol"
	"github.com/r-file/rfile/internal/transfer"
)

// openTimeout caps how long negotiation may take once both peers are in
// the room.
const openTimeout = 30 * time.Second

// HostSend creates a room, prints its code, waits for a peer and
// streams the file to it. Blocks until the transfer is handed off or
// ctx is cancelled.
func HostSend(ctx context.Context, serverURL, filePath string, logger *logrus.Logger) error {
	payload, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	name := filepath.Base(filePath)
	mimeType := mime.TypeByExtension(filepath.Ext(name))

	session, err := Dial(ctx, serverURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	code, err := session.CreateRoom(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Room code: %s\n", code)
	fmt.Println("Waiting for a peer to join...")

	guestID, err := session.AwaitPeer(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Peer %s joined, negotiating", guestID)

	var engine *transfer.Engine
	opened := make(chan struct{})
	conn, err := peer.NewConnection(guestID, session, peer.Events{
		OnOpen:  func() { close(opened) },
		OnClose: func() { engine.Abort() },
		OnMessage: func(data []byte, isString bool) {
			engine.HandleMessage(data, isString)
		},
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	bar := progressbar.DefaultBytes(int64(len(payload)), "sending "+name)
	engine = transfer.NewEngine(conn, transfer.Options{
		Logger: logger,
		OnUpdate: func(t transfer.Transfer) {
			if t.Direction == transfer.DirectionOutbound {
				_ = bar.Set64(t.Size * int64(t.Progress) / 100)
			}
		},
	})

	if err := conn.CreateOffer(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go relayLoop(runCtx, session, conn, engine, logger, cancel)

	select {
	case <-opened:
	case <-runCtx.Done():
		return fmt.Errorf("peer connection never opened: %w", runCtx.Err())
	case <-time.After(openTimeout):
		return fmt.Errorf("peer connection never opened")
	}

	if _, err := engine.SendFile(runCtx, name, mimeType, payload); err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	if err := drain(runCtx, conn); err != nil {
		return err
	}
	_ = session.Leave()
	fmt.Printf("\nSent %s (%d bytes)\n", name, len(payload))
	return nil
}

// JoinReceive joins the room identified by code and writes the first
// received file into outDir.
func JoinReceive(ctx context.Context, serverURL, code, outDir string, logger *logrus.Logger) error {
	session, err := Dial(ctx, serverURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	hostID, err := session.JoinRoom(ctx, code)
	if err != nil {
		return err
	}
	logger.Infof("Joined room, host is %s", hostID)

	// the host announces the data channel, so its offer comes first
	offer, earlyCandidates, err := awaitOffer(ctx, session)
	if err != nil {
		return err
	}

	var engine *transfer.Engine
	done := make(chan error, 1)
	conn, err := peer.NewConnection(offer.FromID, session, peer.Events{
		OnClose: func() { engine.Abort() },
		OnMessage: func(data []byte, isString bool) {
			engine.HandleMessage(data, isString)
		},
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var bar *progressbar.ProgressBar
	engine = transfer.NewEngine(conn, transfer.Options{
		Logger: logger,
		OnUpdate: func(t transfer.Transfer) {
			if t.Direction != transfer.DirectionInbound {
				return
			}
			if bar == nil {
				bar = progressbar.DefaultBytes(t.Size, "receiving "+t.Name)
			}
			_ = bar.Set64(t.Size * int64(t.Progress) / 100)
		},
		OnFile: func(t transfer.Transfer, data []byte) {
			done <- writeReceived(outDir, t.Name, data)
		},
	})

	if err := conn.HandleOffer(offer.SDP); err != nil {
		return err
	}
	for _, candidate := range earlyCandidates {
		if err := conn.HandleCandidate(candidate); err != nil {
			logger.Warnf("Failed to apply early candidate: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go relayLoop(runCtx, session, conn, engine, logger, cancel)

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-runCtx.Done():
		return fmt.Errorf("transfer interrupted: %w", runCtx.Err())
	}

	_ = session.Leave()
	return nil
}

// relayLoop pumps the remaining signaling traffic into the peer
// connection until the session or ctx ends.
func relayLoop(ctx context.Context, session *Session, conn *peer.Connection, engine *transfer.Engine, logger *logrus.Logger, cancel context.CancelFunc) {
	defer cancel()

	for {
		msg, err := session.Next(ctx)
		if err != nil {
			return
		}
		switch msg.Type {
		case protocol.TypeAnswer:
			if err := conn.HandleAnswer(msg.SDP); err != nil {
				logger.Warnf("Failed to apply answer: %v", err)
			}
		case protocol.TypeICECandidate:
			if err := conn.HandleCandidate(msg.Candidate); err != nil {
				logger.Warnf("Failed to apply candidate: %v", err)
			}
		case protocol.TypePeerLeft:
			logger.Info("Peer left the room")
			engine.Abort()
			return
		case protocol.TypeError:
			logger.Warnf("Server error: %s (%s)", msg.Message, msg.Code)
		}
	}
}

// awaitOffer blocks until the host's offer arrives. The host's first
// ICE candidates can beat the offer on the wire, so they are collected
// here and handed back for replay once the connection exists.
func awaitOffer(ctx context.Context, session *Session) (protocol.ServerMessage, []json.RawMessage, error) {
	offerCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	var early []json.RawMessage
	for {
		msg, err := session.Next(offerCtx)
		if err != nil {
			return protocol.ServerMessage{}, nil, fmt.Errorf("waiting for offer: %w", err)
		}
		switch msg.Type {
		case protocol.TypeOffer:
			return msg, early, nil
		case protocol.TypeICECandidate:
			early = append(early, msg.Candidate)
		case protocol.TypePeerLeft:
			return protocol.ServerMessage{}, nil, fmt.Errorf("host left before negotiating")
		}
	}
}

// drain waits for the data channel to flush its outbound buffer so the
// connection is not torn down under the last frames.
func drain(ctx context.Context, conn *peer.Connection) error {
	for conn.BufferedAmount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(protocol.BufferPollInterval):
		}
	}
	// grace period for in-flight SCTP delivery
	time.Sleep(500 * time.Millisecond)
	return nil
}

func writeReceived(outDir, name string, data []byte) error {
	if outDir == "" {
		outDir = "."
	}
	// never let a remote-supplied name escape the output directory
	target := filepath.Join(outDir, filepath.Base(name))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	fmt.Printf("\nSaved %s (%d bytes)\n", target, len(data))
	return nil
}
