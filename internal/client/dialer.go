package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one dialled connection to the broker
type Socket interface {
	// ReadMessage blocks for the next frame. Once the socket is closed it
	// returns an error, a *websocket.CloseError when the peer sent a close
	// frame.
	ReadMessage() ([]byte, error)
	// WriteJSON must be safe for concurrent use
	WriteJSON(v any) error
	Close() error
}

// Dialer opens sockets
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials the broker with gorilla/websocket
type WebsocketDialer struct {
	Dialer    *websocket.Dialer
	Header    http.Header
	WriteWait time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &wsSocket{ws: ws, writeWait: writeWait}, nil
}

type wsSocket struct {
	ws        *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
	closed    bool
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.ws.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("socket closed")
	}
	if err := s.ws.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.ws.WriteJSON(v)
}

// Close says goodbye with a normal close frame and drops the connection
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client teardown")
	s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
	s.mu.Unlock()
	return s.ws.Close()
}

// closeCode returns the close code carried by a read error, or 1006 when
// the connection ended without a close frame
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
