// Package client keeps a tab connected to the broker: it registers,
// heartbeats, runs commands through an Executor, ships console output,
// and reconnects with capped exponential backoff when the socket drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/internal/store"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// ErrReconnectExhausted is announced with StateError once every reconnect
// attempt has failed
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

var errSuperseded = errors.New("connection superseded")

// PageInfo describes the page the client runs in
type PageInfo struct {
	URL       string
	Title     string
	TopOrigin string
	UserAgent string
}

type Options struct {
	Dialer     Dialer
	Handshaker Handshaker
	Executor   Executor
	Store      store.Store
	PageInfo   func() PageInfo
	Clock      clock.Clock
	Logger     zerolog.Logger

	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	// FreshnessMargin is how long a stored token must stay valid to be
	// reused on reconnect
	FreshnessMargin   time.Duration
	ConsoleLimit      int
	ConsoleFlushDelay time.Duration

	// OnStatus is called after every state change, outside the client's
	// locks
	OnStatus func(state State, err error)
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Dialer == nil {
		o.Dialer = &WebsocketDialer{}
	}
	if o.Executor == nil {
		o.Executor = BasicExecutor{}
	}
	if o.Store == nil {
		o.Store = store.NewMemoryStore()
	}
	if o.PageInfo == nil {
		o.PageInfo = func() PageInfo { return PageInfo{} }
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 15 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 8
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.FreshnessMargin <= 0 {
		o.FreshnessMargin = 30 * time.Second
	}
}

// Client owns at most one live connection at a time
type Client struct {
	opts    Options
	clock   clock.Clock
	log     zerolog.Logger
	console *Recorder

	mu            sync.Mutex
	state         State
	conn          *connection
	bootstrap     models.SessionBootstrap
	codename      string
	attempts      int
	autoReconnect bool
	reconnect     *clock.Timer
	// generation changes on every StartSession and Teardown. Work tagged
	// with an older generation is discarded.
	generation uint64
}

type connection struct {
	sock       Socket
	sessionID  string
	generation uint64
	heartbeat  *clock.Ticker
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
	deliberate atomic.Bool
	replaced   atomic.Bool
}

func (c *connection) stop() {
	c.stopOnce.Do(func() {
		c.heartbeat.Stop()
		c.cancel()
		close(c.done)
	})
}

func New(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger.With().Str("component", "client").Logger(),
		console: NewRecorder(opts.Clock, opts.ConsoleLimit, opts.ConsoleFlushDelay),
		state:   StateIdle,
	}
}

// Console returns the recorder whose events are shipped while connected
func (c *Client) Console() *Recorder {
	return c.console
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Codename is the label the broker assigned on the last registration
func (c *Client) Codename() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codename
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrap.SessionID
}

// StartSession connects with b. It is a no-op when already connected to
// the same session.
func (c *Client) StartSession(ctx context.Context, b models.SessionBootstrap) error {
	c.mu.Lock()
	if c.state == StateConnected && c.conn != nil && c.bootstrap.SessionID == b.SessionID {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	old := c.detachLocked()
	c.generation++
	gen := c.generation
	if c.bootstrap.SessionID != b.SessionID {
		c.codename = ""
	}
	c.bootstrap = b
	c.attempts = 0
	c.autoReconnect = true
	c.mu.Unlock()

	if old != nil {
		old.sock.Close()
		old.stop()
	}
	return c.connect(ctx, gen, b)
}

// Teardown closes the connection and cancels any scheduled reconnect
func (c *Client) Teardown() {
	c.mu.Lock()
	c.generation++
	c.autoReconnect = false
	c.stopReconnectLocked()
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		old.sock.Close()
		old.stop()
	}
	c.console.Detach()
	c.setState(StateIdle, nil)
}

func (c *Client) detachLocked() *connection {
	old := c.conn
	c.conn = nil
	if old != nil {
		old.deliberate.Store(true)
	}
	return old
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Client) stopReconnectLocked() {
	c.reconnect.Stop()
	c.reconnect = nil
}

func (c *Client) connect(ctx context.Context, gen uint64, b models.SessionBootstrap) error {
	c.setState(StateConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	sock, err := c.opts.Dialer.Dial(dialCtx, b.SocketURL)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("session", b.SessionID).Msg("dial failed")
		if c.current(gen) {
			c.setState(StateIdle, nil)
		}
		c.scheduleReconnect(gen)
		return err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	// the ticker exists before the connection is published, so every path
	// through stop releases it
	conn := &connection{
		sock:       sock,
		sessionID:  b.SessionID,
		generation: gen,
		heartbeat:  c.clock.NewTicker(c.opts.HeartbeatInterval),
		ctx:        connCtx,
		cancel:     connCancel,
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		conn.stop()
		sock.Close()
		return errSuperseded
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.open(conn, b); err != nil {
		sock.Close()
		if errors.Is(err, errSuperseded) {
			conn.stop()
			return err
		}
		c.log.Warn().Err(err).Str("session", b.SessionID).Msg("register failed")
		c.handleClose(conn, err)
		return err
	}

	go c.readLoop(conn)
	return nil
}

// open registers on the socket and, if conn is still the current
// connection afterwards, starts heartbeats and console shipping
func (c *Client) open(conn *connection, b models.SessionBootstrap) error {
	page := c.opts.PageInfo()
	err := conn.sock.WriteJSON(models.RegisterFrame{
		Kind:      models.KindRegister,
		Token:     b.SessionToken,
		SessionID: b.SessionID,
		URL:       page.URL,
		Title:     page.Title,
		UserAgent: page.UserAgent,
		TopOrigin: page.TopOrigin,
	})
	if err != nil {
		return err
	}

	saved := store.FromBootstrap(b, c.clock.Now())

	// StartSession and Teardown may have run while the register frame was
	// in flight
	c.mu.Lock()
	if conn.generation != c.generation || c.conn != conn {
		c.mu.Unlock()
		return errSuperseded
	}
	go c.heartbeatLoop(conn)
	c.console.Attach(func(events []models.ConsoleEvent) error {
		return conn.sock.WriteJSON(models.ConsoleFrame{
			Kind:      models.KindConsole,
			SessionID: conn.sessionID,
			Events:    events,
		})
	})
	c.attempts = 0
	saved.Codename = c.codename
	if err := c.opts.Store.Save(saved); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist session")
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info().Str("session", b.SessionID).Msg("connected")
	c.announce(StateConnected, nil)
	return nil
}

func (c *Client) heartbeatLoop(conn *connection) {
	for {
		select {
		case <-conn.done:
			return
		case <-conn.heartbeat.C:
			err := conn.sock.WriteJSON(models.HeartbeatFrame{
				Kind:      models.KindHeartbeat,
				SessionID: conn.sessionID,
			})
			if err != nil {
				c.log.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (c *Client) readLoop(conn *connection) {
	for {
		data, err := conn.sock.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		frame, err := models.ParseOutboundFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring broker frame")
			continue
		}

		switch f := frame.(type) {
		case models.CommandFrame:
			go c.execute(conn, f.Command)
		case models.MetadataFrame:
			c.recordCodename(conn, f.Codename)
		case models.DisconnectFrame:
			c.log.Info().Str("reason", f.Reason).Msg("broker sent disconnect")
			if f.Reason == models.DisconnectReplaced {
				conn.replaced.Store(true)
			}
		}
	}
}

func (c *Client) execute(conn *connection, cmd models.Command) {
	start := c.clock.Now()
	result := c.opts.Executor.Execute(conn.ctx, cmd)
	if result.CommandID == "" {
		result.CommandID = cmd.ID
	}
	if result.DurationMs == 0 {
		result.DurationMs = float64(c.clock.Now().Sub(start).Microseconds()) / 1000
	}

	err := conn.sock.WriteJSON(models.CommandResultFrame{
		Kind:      models.KindCommandResult,
		SessionID: conn.sessionID,
		Result:    result,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("command_id", cmd.ID).Msg("failed to send command result")
	}
}

func (c *Client) recordCodename(conn *connection, codename string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.codename = codename
	c.mu.Unlock()

	saved, err := c.opts.Store.Load()
	if err != nil || saved.SessionID != conn.sessionID {
		return
	}
	saved.Codename = codename
	if err := c.opts.Store.Save(*saved); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist codename")
	}
}

func (c *Client) handleClose(conn *connection, err error) {
	conn.stop()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if conn.replaced.Load() {
		c.autoReconnect = false
	}
	c.mu.Unlock()

	c.console.Detach()

	code := closeCode(err)
	c.log.Info().Int("code", code).Str("session", conn.sessionID).Msg("socket closed")

	if code == models.CloseAuthError {
		// the broker refused our token, so the stored session is useless
		if err := c.opts.Store.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("failed to clear stored session")
		}
	}

	c.setState(StateIdle, nil)
	if conn.deliberate.Load() {
		return
	}
	c.scheduleReconnect(conn.generation)
}

// backoff returns min(base * 2^attempts, ceiling)
func backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if attempts >= 62 {
		return ceiling
	}
	d := base << attempts
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || !c.autoReconnect || c.reconnect != nil {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.autoReconnect = false
		c.mu.Unlock()
		c.log.Error().Int("attempts", c.opts.MaxReconnectAttempts).Msg("giving up on reconnect")
		c.setState(StateError, ErrReconnectExhausted)
		return
	}
	delay := backoff(c.opts.ReconnectBase, c.opts.ReconnectCap, c.attempts)
	c.attempts++
	attempt := c.attempts
	c.reconnect = c.clock.AfterFunc(delay, func() { c.reconnectNow(gen) })
	c.mu.Unlock()

	c.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnect scheduled")
}

func (c *Client) reconnectNow(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || !c.autoReconnect {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	current := c.bootstrap
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()

	b, err := c.nextBootstrap(ctx, current)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.mu.Lock()
			stale := gen != c.generation
			if !stale {
				c.autoReconnect = false
			}
			c.mu.Unlock()
			if stale {
				return
			}
			c.log.Error().Err(err).Msg("handshake rejected, reconnect disabled")
			if err := c.opts.Store.Clear(); err != nil {
				c.log.Warn().Err(err).Msg("failed to clear stored session")
			}
			c.setState(StateError, err)
			return
		}
		c.log.Warn().Err(err).Msg("handshake failed")
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.bootstrap = b
	c.mu.Unlock()

	c.connect(context.Background(), gen, b)
}

// nextBootstrap prefers a stored session that is still fresh, then asks
// the handshaker for a new one
func (c *Client) nextBootstrap(ctx context.Context, current models.SessionBootstrap) (models.SessionBootstrap, error) {
	now := c.clock.Now()
	if saved, err := c.opts.Store.Load(); err == nil && saved.Fresh(now, c.opts.FreshnessMargin) {
		return saved.Bootstrap(), nil
	}
	if c.opts.Handshaker == nil {
		return models.SessionBootstrap{}, fmt.Errorf("%w: stored session expired and no handshaker configured", ErrUnauthorized)
	}
	return c.opts.Handshaker.Handshake(ctx, current.SessionID)
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.announce(s, err)
}

func (c *Client) announce(s State, err error) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s, err)
	}
}

func (c *Client) reconnectScheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}
