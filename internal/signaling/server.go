// Package signaling runs the rendezvous WebSocket endpoint: it admits
// connections under the abuse guard and relays room and negotiation
// messages between paired peers.
package signaling

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/r-file/rfile/internal/guard"
	"github.com/r-file/rfile/internal/room"
)

type Server struct {
	rooms    *room.Registry
	guard    *guard.Guard
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewServer(rooms *room.Registry, g *guard.Guard, logger *logrus.Logger) *Server {
	return &Server{
		rooms:  rooms,
		guard:  g,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its session until it
// closes. Rejected connections are closed with a policy-violation close
// code before any protocol traffic.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Upgrade failed for %s: %v", ip, err)
		return
	}

	if !s.guard.TryAdmit(ip) {
		s.logger.Infof("Rejecting connection from %s: too many connections", ip)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit exceeded")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		return
	}

	s.logger.Infof("New connection from %s", ip)

	sess := newSession(conn, ip, s.rooms, s.guard, s.logger)
	go func() {
		defer s.guard.Release(ip)
		sess.run()
		s.logger.Infof("Connection from %s closed", ip)
	}()
}

// clientIP attributes the request to a source IP, honoring the first
// entry of X-Forwarded-For when a reverse proxy set it.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
