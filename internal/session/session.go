package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/internal/metrics"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

const (
	CloseNormal    = models.CloseNormal
	CloseShutdown  = models.CloseShutdown
	CloseReplaced  = models.CloseReplaced
	CloseStale     = models.CloseStale
	CloseOperator  = models.CloseOperator
	CloseAuthError = models.CloseAuthError
)

// Conn is the socket behind a session. Send must be safe for concurrent
// use.
type Conn interface {
	Send(v any) error
	Close(code int, reason string) error
	Open() bool
}

// Session is one registered tab. All mutable state sits behind mu; the
// Manager lock is always taken first when both are needed.
type Session struct {
	ID       string
	Metadata models.SessionMetadata

	conn    Conn
	clock   clock.Clock
	metrics *metrics.Metrics

	mu              sync.Mutex
	lastHeartbeatAt time.Time
	console         *ConsoleBuffer
	pending         map[string]*pendingCommand
	ended           bool
}

type outcome struct {
	result *models.CommandResult
	err    error
}

type pendingCommand struct {
	timer *clock.Timer
	done  chan outcome
}

func newSession(id string, meta models.SessionMetadata, conn Conn, consoleLimit int, clk clock.Clock, m *metrics.Metrics) *Session {
	return &Session{
		ID:              id,
		Metadata:        meta,
		conn:            conn,
		clock:           clk,
		metrics:         m,
		lastHeartbeatAt: meta.CreatedAt,
		console:         NewConsoleBuffer(consoleLimit),
		pending:         make(map[string]*pendingCommand),
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeatAt = now
	s.mu.Unlock()
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAt
}

func (s *Session) appendConsole(events []models.ConsoleEvent, now time.Time) {
	s.mu.Lock()
	s.console.Append(events, now)
	s.mu.Unlock()
}

func (s *Session) consoleSnapshot() []models.ConsoleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.console.Snapshot()
}

func (s *Session) summary(now time.Time) models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := models.SocketClosed
	if !s.ended && s.conn.Open() {
		state = models.SocketOpen
	}

	return models.SessionSummary{
		SessionID:           s.ID,
		Metadata:            s.Metadata,
		LastHeartbeatAt:     s.lastHeartbeatAt,
		HeartbeatAgeMs:      now.Sub(s.lastHeartbeatAt).Milliseconds(),
		ConsoleEventCount:   s.console.Len(),
		ConsoleErrorCount:   s.console.ErrorCount(),
		PendingCommandCount: len(s.pending),
		LastConsoleEventAt:  s.console.LastEventAt(),
		SocketState:         state,
	}
}

// send assigns cmd a fresh id, writes it to the socket and waits for
// exactly one outcome: a result, a timeout, the session ending, a
// transport error or ctx being done.
func (s *Session) send(ctx context.Context, cmd models.Command, timeout time.Duration) (*models.CommandResult, error) {
	s.mu.Lock()
	if s.ended || !s.conn.Open() {
		s.mu.Unlock()
		return nil, ErrSessionNotOpen
	}

	id := uuid.NewString()
	p := &pendingCommand{done: make(chan outcome, 1)}
	s.pending[id] = p
	p.timer = s.clock.AfterFunc(timeout, func() {
		s.settle(id, outcome{err: &CommandTimeoutError{CommandID: id, Timeout: timeout}})
	})
	s.metrics.PendingCommands.Inc()
	s.mu.Unlock()

	cmd.ID = id
	if err := s.conn.Send(models.NewCommandFrame(s.ID, cmd)); err != nil {
		s.settle(id, outcome{err: &TransportSendError{CommandID: id, Err: err}})
	}

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		s.settle(id, outcome{err: ctx.Err()})
		out := <-p.done
		return out.result, out.err
	}
}

// settle delivers out to the pending command id if it is still pending.
// Whoever removes the entry from the map owns delivery, so every command
// settles once no matter how result, timer and teardown race.
func (s *Session) settle(id string, out outcome) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	p.timer.Stop()
	p.done <- out
	s.metrics.PendingCommands.Dec()
	return true
}

// resolve settles the command named by result.CommandID. Unknown and
// already settled ids are ignored.
func (s *Session) resolve(result models.CommandResult) bool {
	return s.settle(result.CommandID, outcome{result: &result})
}

// end marks the session finished and fails everything still pending with
// a SessionEndedError. Later calls are no-ops.
func (s *Session) end(reason string) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	pending := s.pending
	s.pending = make(map[string]*pendingCommand)
	s.mu.Unlock()

	for id, p := range pending {
		p.timer.Stop()
		p.done <- outcome{err: &SessionEndedError{SessionID: s.ID, CommandID: id, Reason: reason}}
		s.metrics.PendingCommands.Dec()
	}
	return true
}

// Ended reports whether the session has been removed
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
