// Package mockeventsub is a scriptable in-process EventSub websocket server.
// It speaks the real message envelope (session_welcome, session_keepalive,
// notification, session_reconnect, revocation) so session and stream
// behavior can be tested without Twitch.
package mockeventsub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server is a mock EventSub websocket endpoint.
type Server struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu               sync.Mutex
	conns            map[*websocket.Conn]bool
	keepaliveSeconds int
	nextSessionID    string
	suppressWelcome  bool
	lastSessionID    string
	welcomed         int
}

// NewServer starts the mock. Connections are welcomed automatically with a
// fresh session id unless configured otherwise.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:            make(map[*websocket.Conn]bool),
		keepaliveSeconds: 10,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
	s.server.Close()
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return strings.Replace(s.server.URL, "http://", "ws://", 1)
}

// SetKeepaliveSeconds sets the keepalive interval advertised in subsequent
// welcome messages.
func (s *Server) SetKeepaliveSeconds(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepaliveSeconds = n
}

// AdoptSessionID makes the next welcome reuse the given session id, the way
// a reconnect-target server keeps the session alive.
func (s *Server) AdoptSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID = id
}

// SuppressWelcome makes new connections sit silent, for welcome-deadline
// testing.
func (s *Server) SuppressWelcome(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressWelcome = on
}

// LastSessionID returns the session id sent in the most recent welcome.
func (s *Server) LastSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSessionID
}

// WelcomeCount reports how many welcomes have been sent, i.e. how many
// times a client connected successfully.
func (s *Server) WelcomeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.welcomed
}

// ConnectionCount reports currently open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections severs every connection without a close frame, the way a
// network failure would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

// SendKeepalive broadcasts a session_keepalive.
func (s *Server) SendKeepalive() error {
	return s.broadcast(envelope("session_keepalive", "", "", map[string]any{}))
}

// SendNotification broadcasts an event and returns its message id.
func (s *Server) SendNotification(subID, typ, version string, condition map[string]string, event any) (string, error) {
	id := uuid.NewString()
	return id, s.SendNotificationWithID(id, subID, typ, version, condition, event)
}

// SendNotificationWithID broadcasts an event under a caller-chosen message
// id, so redelivery can be simulated.
func (s *Server) SendNotificationWithID(msgID, subID, typ, version string, condition map[string]string, event any) error {
	payload := map[string]any{
		"subscription": map[string]any{
			"id":        subID,
			"status":    "enabled",
			"type":      typ,
			"version":   version,
			"condition": condition,
			"transport": map[string]string{"method": "websocket"},
			"cost":      0,
		},
		"event": event,
	}
	env := envelope("notification", typ, version, payload)
	env["metadata"].(map[string]any)["message_id"] = msgID
	return s.broadcast(env)
}

// SendReconnect directs clients to the given URL.
func (s *Server) SendReconnect(url string) error {
	s.mu.Lock()
	sessionID := s.lastSessionID
	keepalive := s.keepaliveSeconds
	s.mu.Unlock()
	payload := map[string]any{
		"session": map[string]any{
			"id":                        sessionID,
			"status":                    "reconnecting",
			"keepalive_timeout_seconds": keepalive,
			"reconnect_url":             url,
		},
	}
	return s.broadcast(envelope("session_reconnect", "", "", payload))
}

// SendRevocation broadcasts a revocation with the given status reason.
func (s *Server) SendRevocation(subID, typ, version, status string) error {
	payload := map[string]any{
		"subscription": map[string]any{
			"id":      subID,
			"status":  status,
			"type":    typ,
			"version": version,
		},
	}
	return s.broadcast(envelope("revocation", typ, version, payload))
}

// SendRaw broadcasts an arbitrary frame, for malformed-message testing.
func (s *Server) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send raw frame: %w", err)
		}
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	suppress := s.suppressWelcome
	sessionID := s.nextSessionID
	s.nextSessionID = ""
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	keepalive := s.keepaliveSeconds
	if !suppress {
		s.lastSessionID = sessionID
		s.welcomed++
	}
	s.mu.Unlock()

	if !suppress {
		payload := map[string]any{
			"session": map[string]any{
				"id":                        sessionID,
				"status":                    "connected",
				"keepalive_timeout_seconds": keepalive,
				"connected_at":              time.Now().UTC().Format(time.RFC3339Nano),
			},
		}
		data, _ := json.Marshal(envelope("session_welcome", "", "", payload))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			return
		}
	}

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(env map[string]any) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return fmt.Errorf("no connected clients")
	}
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send %v: %w", env["metadata"].(map[string]any)["message_type"], err)
		}
	}
	return nil
}

func envelope(messageType, subType, subVersion string, payload map[string]any) map[string]any {
	meta := map[string]any{
		"message_id":        uuid.NewString(),
		"message_type":      messageType,
		"message_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if subType != "" {
		meta["subscription_type"] = subType
		meta["subscription_version"] = subVersion
	}
	return map[string]any{"metadata": meta, "payload": payload}
}
