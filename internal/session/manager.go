package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/sweetlink/internal/auth"
	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/internal/logging"
	"github.com/shehryarbajwa/sweetlink/internal/metrics"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

// TokenVerifier checks the session token carried by a register frame
type TokenVerifier interface {
	Verify(token string, expected auth.Scope) (*auth.Claims, error)
}

// Options tunes a Manager. Zero values fall back to the defaults below.
type Options struct {
	CommandTimeout     time.Duration
	HeartbeatTolerance time.Duration
	ConsoleLimit       int
	MaxSessions        int64

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

const (
	DefaultCommandTimeout     = 15 * time.Second
	DefaultHeartbeatTolerance = 15 * time.Second
	DefaultMaxSessions        = 50
)

// Manager is the registry of live tab sessions. It owns the session map,
// the per-session command correlators and the liveness sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	slots    *semaphore.Weighted

	verifier TokenVerifier
	opts     Options
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewManager creates a new session manager
func NewManager(verifier TokenVerifier, opts Options) *Manager {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.HeartbeatTolerance <= 0 {
		opts.HeartbeatTolerance = DefaultHeartbeatTolerance
	}
	if opts.ConsoleLimit <= 0 {
		opts.ConsoleLimit = DefaultConsoleLimit
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Manager{
		sessions: make(map[string]*Session),
		slots:    semaphore.NewWeighted(opts.MaxSessions),
		verifier: verifier,
		opts:     opts,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger.With().Str("component", "sessions").Logger(),
	}
}

// Register authenticates frame and binds its session id to conn. An
// existing session with the same id is replaced: its socket is closed and
// its pending commands fail. The tab is acknowledged with a metadata frame
// carrying its codename.
func (m *Manager) Register(conn Conn, frame *models.RegisterFrame) (*Session, error) {
	claims, err := m.verifier.Verify(frame.Token, auth.ScopeSession)
	if err != nil {
		m.metrics.AuthFailures.Inc()
		return nil, err
	}
	if claims.SessionID != frame.SessionID {
		m.metrics.AuthFailures.Inc()
		return nil, ErrSessionMismatch
	}

	now := m.clock.Now()

	m.mu.Lock()
	old := m.sessions[frame.SessionID]
	if old == nil && !m.slots.TryAcquire(1) {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	// a replacement inherits the old session's slot
	delete(m.sessions, frame.SessionID)

	meta := models.SessionMetadata{
		UserAgent: frame.UserAgent,
		URL:       frame.URL,
		Title:     frame.Title,
		TopOrigin: frame.TopOrigin,
		Codename:  newCodename(m.codenameTakenLocked),
		CreatedAt: now,
	}
	sess := newSession(frame.SessionID, meta, conn, m.opts.ConsoleLimit, m.clock, m.metrics)
	m.sessions[sess.ID] = sess
	m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if old != nil {
		m.log.Info().
			Str("session", sess.ID).
			Msg("session re-registered, closing previous socket")
		m.retire(old, metrics.RemovedReplaced, models.DisconnectReplaced, CloseReplaced)
	}

	m.metrics.SessionsRegistered.Inc()
	m.log.Info().
		Str("session", sess.ID).
		Str("codename", meta.Codename).
		Str("url", logging.Sanitize(meta.URL)).
		Msg("session registered")

	if err := conn.Send(models.NewMetadataFrame(sess.ID, meta.Codename)); err != nil {
		m.log.Warn().Err(err).Str("session", sess.ID).Msg("failed to send metadata frame")
	}
	return sess, nil
}

func (m *Manager) codenameTakenLocked(name string) bool {
	for _, s := range m.sessions {
		if s.Metadata.Codename == name {
			return true
		}
	}
	return false
}

// Get returns the live session registered under id
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// TouchHeartbeat records a heartbeat. It reports false for unknown ids.
func (m *Manager) TouchHeartbeat(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.touch(m.clock.Now())
	return true
}

// AppendConsole buffers console events for session id
func (m *Manager) AppendConsole(id string, events []models.ConsoleEvent) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.appendConsole(events, m.clock.Now())
	m.metrics.ConsoleEvents.Add(float64(len(events)))
	return nil
}

// Resolve completes the pending command result.CommandID on session id.
// Results for unknown sessions or commands are dropped.
func (m *Manager) Resolve(id string, result models.CommandResult) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.resolve(result)
}

// SendCommand validates cmd, delivers it to session id and blocks until its
// result arrives, timeout passes (zero means the configured default), the
// session ends, or ctx is done.
func (m *Manager) SendCommand(ctx context.Context, id string, cmd models.Command, timeout time.Duration) (*models.CommandResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if timeout <= 0 {
		timeout = m.opts.CommandTimeout
	}

	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	start := m.clock.Now()
	result, err := s.send(ctx, cmd, timeout)
	if errors.Is(err, ErrSessionNotOpen) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotOpen, id)
	}

	elapsed := m.clock.Now().Sub(start)
	m.recordOutcome(result, err, elapsed)
	if err != nil {
		m.log.Debug().Err(err).Str("session", id).Str("type", string(cmd.Type)).Msg("command failed")
	}
	return result, err
}

func (m *Manager) recordOutcome(result *models.CommandResult, err error, elapsed time.Duration) {
	var (
		timeout   *CommandTimeoutError
		ended     *SessionEndedError
		transport *TransportSendError
	)

	outcome := metrics.OutcomeCanceled
	switch {
	case err == nil && result.OK:
		outcome = metrics.OutcomeOK
	case err == nil:
		outcome = metrics.OutcomeFailed
	case errors.As(err, &timeout):
		outcome = metrics.OutcomeTimeout
	case errors.As(err, &ended):
		outcome = metrics.OutcomeEnded
	case errors.As(err, &transport):
		outcome = metrics.OutcomeTransport
	}

	m.metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		m.metrics.CommandDuration.Observe(elapsed.Seconds())
	}
}

// Remove drops session id, failing its pending commands with reason. It is
// idempotent and reports whether anything was removed.
func (m *Manager) Remove(id, reason string) bool {
	return m.remove(id, nil, metrics.RemovedClosed, reason)
}

// Detach removes s only while it is still the session registered under
// its id, so a replaced socket closing late leaves its successor alone.
func (m *Manager) Detach(s *Session, reason string) bool {
	return m.remove(s.ID, s, metrics.RemovedClosed, reason)
}

func (m *Manager) remove(id string, want *Session, cause, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && want != nil && s != want {
		ok = false
	}
	if ok {
		m.dropLocked(id)
	}
	m.mu.Unlock()

	if !ok {
		if want != nil {
			want.end(reason)
		}
		return false
	}

	s.end(reason)
	m.metrics.SessionsRemoved.WithLabelValues(cause).Inc()
	m.log.Info().Str("session", id).Str("reason", reason).Msg("session removed")
	return true
}

func (m *Manager) dropLocked(id string) {
	delete(m.sessions, id)
	m.slots.Release(1)
	m.metrics.SessionsActive.Set(float64(len(m.sessions)))
}

// Disconnect removes session id on behalf of the control plane, telling
// the tab why before closing its socket. An empty reason uses
// models.DisconnectOperator.
func (m *Manager) Disconnect(id, reason string) error {
	if reason == "" {
		reason = models.DisconnectOperator
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.dropLocked(id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.retire(s, metrics.RemovedOperator, reason, CloseOperator)
	return nil
}

// retire notifies and closes the socket of a session that is no longer in
// the map, then fails its pending commands.
func (m *Manager) retire(s *Session, cause, reason string, code int) {
	if s.conn.Open() {
		if err := s.conn.Send(models.NewDisconnectFrame(reason)); err != nil {
			m.log.Debug().Err(err).Str("session", s.ID).Msg("failed to send disconnect frame")
		}
	}
	if err := s.conn.Close(code, reason); err != nil {
		m.log.Debug().Err(err).Str("session", s.ID).Msg("closing socket")
	}
	s.end(reason)
	m.metrics.SessionsRemoved.WithLabelValues(cause).Inc()
}

// Sweep removes every session whose last heartbeat is older than the
// tolerance and returns how many it removed.
func (m *Manager) Sweep() int {
	now := m.clock.Now()

	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastHeartbeat()) > m.opts.HeartbeatTolerance {
			stale = append(stale, s)
			m.dropLocked(id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.log.Warn().
			Str("session", s.ID).
			Dur("silent_for", now.Sub(s.LastHeartbeat())).
			Msg("session missed heartbeats")
		m.retire(s, metrics.RemovedStale, models.DisconnectStale, CloseStale)
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// List returns a summary of every live session, oldest first
func (m *Manager) List() []models.SessionSummary {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	now := m.clock.Now()
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.summary(now))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metadata.CreatedAt, out[j].Metadata.CreatedAt
		if a.Equal(b) {
			return out[i].SessionID < out[j].SessionID
		}
		return a.Before(b)
	})
	return out
}

// Console returns a copy of the buffered console events of session id
func (m *Manager) Console(id string) ([]models.ConsoleEvent, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.consoleSnapshot(), nil
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown disconnects every session with reason (models.DisconnectShutdown
// when empty). Pending commands fail with a SessionEndedError.
func (m *Manager) Shutdown(reason string) {
	if reason == "" {
		reason = models.DisconnectShutdown
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		m.dropLocked(id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.retire(s, metrics.RemovedShutdown, reason, CloseShutdown)
	}
	if len(sessions) > 0 {
		m.log.Info().Int("sessions", len(sessions)).Msg("disconnected all sessions")
	}
}
