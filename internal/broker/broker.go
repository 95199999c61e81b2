// Package broker accepts tab sockets, authenticates them into sessions
// and routes their frames to the session registry.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shehryarbajwa/sweetlink/internal/auth"
	"github.com/shehryarbajwa/sweetlink/internal/logging"
	"github.com/shehryarbajwa/sweetlink/internal/metrics"
	"github.com/shehryarbajwa/sweetlink/internal/session"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

const (
	DefaultMaxFrameBytes = 8 << 20
	DefaultWriteWait     = 10 * time.Second
)

// Frame drop reasons reported to metrics
const (
	dropMalformed    = "malformed"
	dropUnregistered = "unregistered"
	dropMismatch     = "session_mismatch"
	dropReregister   = "already_registered"
)

type Options struct {
	// AllowedOrigins lists the Origin headers accepted on upgrade. Empty
	// or "*" accepts any origin. Requests without an Origin header (non
	// browser agents) are always accepted.
	AllowedOrigins []string
	MaxFrameBytes  int64
	WriteWait      time.Duration

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Broker is the socket side of the session protocol plus the façade the
// control plane calls into.
type Broker struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	opts     Options
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu      sync.Mutex
	sockets map[*socket]struct{}
	closing bool
}

func New(sessions *session.Manager, opts Options) *Broker {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	b := &Broker{
		sessions: sessions,
		opts:     opts,
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "broker").Logger(),
		sockets:  make(map[*socket]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

func (b *Broker) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(b.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(b.opts.AllowedOrigins, "*") || slices.Contains(b.opts.AllowedOrigins, origin)
}

// HandleBridge upgrades a tab's HTTP request and serves the socket until
// it closes
func (b *Broker) HandleBridge(w http.ResponseWriter, r *http.Request) {
	if b.shuttingDown() {
		http.Error(w, "broker shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		b.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("socket upgrade failed")
		return
	}

	sock := newSocket(ws, b.opts.WriteWait)
	if !b.track(sock) {
		// Shutdown started while the upgrade was in progress
		sock.Close(session.CloseShutdown, models.DisconnectShutdown)
		return
	}
	defer b.untrack(sock)

	b.log.Debug().Str("remote", r.RemoteAddr).Msg("socket connected")
	b.serve(sock)
}

// serve reads frames in order until the socket fails, then detaches the
// session established on it, if any
func (b *Broker) serve(sock *socket) {
	ws := sock.ws
	ws.SetReadLimit(b.opts.MaxFrameBytes)

	var current *session.Session
	var readErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		current = b.dispatch(sock, current, data)
	}

	sock.markClosed()
	ws.Close()

	code, text := closeStatus(readErr)
	if current == nil {
		b.log.Debug().Int("code", code).Msg("unregistered socket closed")
		return
	}

	reason := closeReason(code, text)
	if b.sessions.Detach(current, reason) {
		b.log.Info().Str("session", current.ID).Str("reason", reason).Msg("socket closed")
	}
}

// closeStatus extracts the close code the peer sent. A connection that
// ended without a close frame is reported as 1006.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		return ce.Code, ce.Text
	case errors.Is(err, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig, "frame too large"
	default:
		return websocket.CloseAbnormalClosure, ""
	}
}

func closeReason(code int, text string) string {
	if text == "" {
		return fmt.Sprintf("socket closed (%d)", code)
	}
	return fmt.Sprintf("socket closed (%d: %s)", code, logging.Sanitize(text))
}

// dispatch handles one inbound frame and returns the session bound to the
// socket afterwards
func (b *Broker) dispatch(sock *socket, current *session.Session, data []byte) *session.Session {
	frame, err := models.ParseInboundFrame(data)
	if err != nil {
		b.metrics.FramesDropped.WithLabelValues(dropMalformed).Inc()
		b.log.Warn().
			Str("error", logging.Sanitize(err.Error())).
			Str("frame", logging.Sanitize(string(data))).
			Msg("dropping malformed frame")
		return current
	}
	b.metrics.FramesReceived.WithLabelValues(string(frame.FrameKind())).Inc()

	if f, ok := frame.(*models.RegisterFrame); ok {
		if current != nil {
			b.drop(dropReregister, current.ID, f)
			return current
		}
		return b.register(sock, f)
	}

	switch {
	case current == nil:
		b.drop(dropUnregistered, frame.Session(), frame)
		return current
	case frame.Session() != current.ID || current.Ended():
		b.drop(dropMismatch, current.ID, frame)
		return current
	}

	switch f := frame.(type) {
	case *models.HeartbeatFrame:
		b.sessions.TouchHeartbeat(current.ID)
	case *models.CommandResultFrame:
		if !b.sessions.Resolve(current.ID, f.Result) {
			b.log.Debug().
				Str("session", current.ID).
				Str("command", logging.Sanitize(f.Result.CommandID)).
				Msg("result for unknown or settled command")
		}
	case *models.ConsoleFrame:
		if err := b.sessions.AppendConsole(current.ID, f.Events); err != nil {
			b.log.Debug().Err(err).Msg("console frame for removed session")
		}
	}
	return current
}

func (b *Broker) register(sock *socket, f *models.RegisterFrame) *session.Session {
	sess, err := b.sessions.Register(sock, f)
	if err == nil {
		return sess
	}

	b.log.Warn().
		Err(err).
		Str("session", logging.Sanitize(f.SessionID)).
		Msg("registration rejected")

	code := session.CloseAuthError
	if errors.Is(err, session.ErrTooManySessions) {
		code = websocket.CloseTryAgainLater
	} else if !errors.Is(err, auth.ErrAuth) {
		code = websocket.CloseInternalServerErr
	}
	if err := sock.Send(models.NewDisconnectFrame(err.Error())); err != nil {
		b.log.Debug().Err(err).Msg("failed to send disconnect frame")
	}
	if err := sock.Close(code, err.Error()); err != nil {
		b.log.Debug().Err(err).Msg("closing rejected socket")
	}
	return nil
}

func (b *Broker) drop(reason, sessionID string, frame models.InboundFrame) {
	b.metrics.FramesDropped.WithLabelValues(reason).Inc()
	b.log.Debug().
		Str("reason", reason).
		Str("session", logging.Sanitize(sessionID)).
		Str("kind", logging.Sanitize(string(frame.FrameKind()))).
		Msg("dropping frame")
}

// track adds s to the sockets Shutdown closes. It reports false once
// shutdown has begun.
func (b *Broker) track(s *socket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return false
	}
	b.sockets[s] = struct{}{}
	return true
}

func (b *Broker) untrack(s *socket) {
	b.mu.Lock()
	delete(b.sockets, s)
	b.mu.Unlock()
}

// SendCommand forwards cmd to session id and waits for the outcome
func (b *Broker) SendCommand(ctx context.Context, id string, cmd models.Command, timeout time.Duration) (*models.CommandResult, error) {
	return b.sessions.SendCommand(ctx, id, cmd, timeout)
}

func (b *Broker) ListSessions() []models.SessionSummary {
	return b.sessions.List()
}

func (b *Broker) GetConsole(id string) ([]models.ConsoleEvent, error) {
	return b.sessions.Console(id)
}

func (b *Broker) Disconnect(id, reason string) error {
	return b.sessions.Disconnect(id, reason)
}

func (b *Broker) shuttingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closing
}

// Shutdown ends every session and closes sockets that never registered.
// Sockets arriving afterwards are refused.
func (b *Broker) Shutdown(reason string) {
	if reason == "" {
		reason = models.DisconnectShutdown
	}
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	b.sessions.Shutdown(reason)

	b.mu.Lock()
	sockets := make([]*socket, 0, len(b.sockets))
	for s := range b.sockets {
		sockets = append(sockets, s)
	}
	b.mu.Unlock()

	for _, s := range sockets {
		s.Close(session.CloseShutdown, reason)
	}
}
