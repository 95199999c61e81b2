package broker

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var errSocketClosed = errors.New("socket closed")

// socket adapts a websocket connection to session.Conn. gorilla permits a
// single concurrent writer, so every write goes through mu.
type socket struct {
	ws        *websocket.Conn
	writeWait time.Duration

	mu   sync.Mutex
	open atomic.Bool
}

func newSocket(ws *websocket.Conn, writeWait time.Duration) *socket {
	s := &socket{ws: ws, writeWait: writeWait}
	s.open.Store(true)
	return s
}

// Send writes v as a JSON text frame
func (s *socket) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open.Load() {
		return errSocketClosed
	}
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason and tears the connection
// down, which also ends the read loop. Only the first call does anything.
func (s *socket) Close(code int, reason string) error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	msg := websocket.FormatCloseMessage(code, truncateCloseReason(reason))
	err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
	s.mu.Unlock()

	return errors.Join(err, s.ws.Close())
}

func (s *socket) Open() bool {
	return s.open.Load()
}

// markClosed records that the peer went away
func (s *socket) markClosed() {
	s.open.Store(false)
}

// close payloads are limited to 125 bytes, two of which hold the code
func truncateCloseReason(reason string) string {
	const maxReason = 123
	if len(reason) <= maxReason {
		return reason
	}
	return strings.ToValidUTF8(reason[:maxReason], "")
}
