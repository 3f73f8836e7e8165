package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/dotside-studios/davi-balance-reader/balance"
	"github.com/dotside-studios/davi-balance-reader/screen"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebsocketMessage is pushed to WebSocket clients.
type WebsocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// BalancePayload is the payload of a balance message.
type BalancePayload struct {
	ScanID   string  `json:"scanId"`
	UID      string  `json:"uid"`
	Balance  string  `json:"balance"`
	Amount   *string `json:"amount"`
	BlockHex string  `json:"blockHex"`
	ReadAt   string  `json:"readAt"`
}

func newBalancePayload(res *balance.Result) BalancePayload {
	p := BalancePayload{
		ScanID:   res.ID,
		UID:      res.UID,
		Balance:  res.Balance,
		BlockHex: balance.EncodeHex(res.Block),
		ReadAt:   res.ReadAt.Format(time.RFC3339),
	}
	if res.Amount.Valid {
		amount := res.Amount.Decimal.StringFixed(2)
		p.Amount = &amount
	}
	return p
}

// AlertPayload is the payload of an alert message.
type AlertPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Dismiss string `json:"dismiss"`
}

func newAlertPayload(alert screen.Alert) AlertPayload {
	return AlertPayload{
		Kind:    alert.Kind.String(),
		Message: alert.Message,
		Dismiss: alert.DismissLabel,
	}
}

// client is one connected display. Writes are serialized by mu.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(message *WebsocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(message)
}

// handleWebSocket upgrades the connection, sends the current screen and
// keeps the client registered until it disconnects. Clients only receive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	entry := s.log.WithFields(log.Fields{"client": c.id, "remote": r.RemoteAddr})
	entry.Info("WebSocket connected")

	if err := s.register(c); err != nil {
		entry.WithError(err).Warn("Failed to send initial screen")
		conn.Close()
		return
	}

	defer func() {
		s.unregister(c)
		conn.Close()
		entry.Info("WebSocket disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// register sends the current screen to c, then adds it to the broadcast set.
// An alert still on screen is sent after the balance it covers.
// Holding clientsMux while sending keeps c from missing a concurrent update.
func (s *Server) register(c *client) error {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	snap := s.snapshot()
	initial := []*WebsocketMessage{{Type: WSMessageTypeDeviceStatus, Payload: snap.Device}}
	if snap.Balance != nil {
		initial = append(initial, &WebsocketMessage{Type: WSMessageTypeBalance, Payload: snap.Balance})
	}
	if snap.Alert != nil {
		initial = append(initial, &WebsocketMessage{Type: WSMessageTypeAlert, Payload: snap.Alert})
	}
	for _, msg := range initial {
		if err := c.send(msg); err != nil {
			return err
		}
		s.recordSent(msg.Type)
	}

	s.clients[c] = true
	if s.config.Metrics != nil {
		s.config.Metrics.RecordWSClientChange(1)
	}
	return nil
}

func (s *Server) unregister(c *client) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	s.removeLocked(c)
}

func (s *Server) removeLocked(c *client) {
	if !s.clients[c] {
		return
	}
	delete(s.clients, c)
	if s.config.Metrics != nil {
		s.config.Metrics.RecordWSClientChange(-1)
	}
}

// broadcast sends a message to all connected clients, dropping the ones that
// fail.
func (s *Server) broadcast(message *WebsocketMessage) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	for c := range s.clients {
		if err := c.send(message); err != nil {
			s.log.WithField("client", c.id).WithError(err).Warn("WebSocket write error")
			c.conn.Close()
			s.removeLocked(c)
			continue
		}
		s.recordSent(message.Type)
	}
}

func (s *Server) recordSent(messageType string) {
	if s.config.Metrics != nil {
		s.config.Metrics.RecordWSMessageSent(messageType)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for c := range s.clients {
		c.conn.Close()
		s.removeLocked(c)
	}
}
