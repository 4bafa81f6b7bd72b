package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/guard"
	"github.com/r-file/rfile/internal/logger"
	"github.com/r-file/rfile/internal/protocol"
	"github.com/r-file/rfile/internal/room"
	"github.com/r-file/rfile/internal/signaling"
	"github.com/r-file/rfile/internal/textshare"
)

const guardReapInterval = time.Minute

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", "rfiled.sqlite3", "path to the text-share database")
	flag.Parse()

	log := logger.NewLogger()

	db, err := textshare.Open(*dbPath)
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	texts := textshare.NewStore(db)

	rooms := room.NewRegistry(room.Config{})
	abuse := guard.New(guard.DefaultConfig())

	mux := http.NewServeMux()
	mux.Handle("/ws", signaling.NewServer(rooms, abuse, log))
	textshare.NewHandler(texts, log).Register(mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, log, rooms, abuse, texts)

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Shut down")
}

// sweepLoop runs the periodic maintenance: expired rooms, stale rate
// windows and expired text shares.
func sweepLoop(ctx context.Context, log *logrus.Logger, rooms *room.Registry, abuse *guard.Guard, texts *textshare.Store) {
	roomTicker := time.NewTicker(protocol.RoomSweepInterval)
	guardTicker := time.NewTicker(guardReapInterval)
	textTicker := time.NewTicker(protocol.RoomSweepInterval)
	defer roomTicker.Stop()
	defer guardTicker.Stop()
	defer textTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-roomTicker.C:
			if n := rooms.SweepExpired(); n > 0 {
				log.Infof("Swept %d expired rooms", n)
			}
		case <-guardTicker.C:
			abuse.ReapWindows()
		case <-textTicker.C:
			if n, err := texts.PurgeExpired(); err == nil && n > 0 {
				log.Infof("Purged %d expired text shares", n)
			}
		}
	}
}
