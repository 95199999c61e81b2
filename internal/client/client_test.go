package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/internal/store"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

type fakeSocket struct {
	url      string
	in       chan []byte
	out      chan any
	closedCh chan struct{}

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{
		url:      url,
		in:       make(chan []byte, 16),
		out:      make(chan any, 256),
		closedCh: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closedCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.closeErr
	}
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("socket closed")
	}
	s.out <- v
	return nil
}

func (s *fakeSocket) Close() error {
	s.drop(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	return nil
}

// drop ends the socket as if the peer went away with err
func (s *fakeSocket) drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	close(s.closedCh)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) push(t *testing.T, frame string) {
	t.Helper()
	s.in <- []byte(frame)
}

func (s *fakeSocket) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-s.out:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    int
	urls    []string
	sockets chan *fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sockets: make(chan *fakeSocket, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()

	s := newFakeSocket(url)
	d.sockets <- s
	return s, nil
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) next(t *testing.T) *fakeSocket {
	t.Helper()
	select {
	case s := <-d.sockets:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

// hookDialer hands out one socket that runs afterRegister once its
// register frame has been written
type hookDialer struct {
	*fakeDialer
	afterRegister func()
}

func (d *hookDialer) Dial(ctx context.Context, url string) (Socket, error) {
	s, err := d.fakeDialer.Dial(ctx, url)
	if err != nil || d.afterRegister == nil {
		return s, err
	}
	hook := d.afterRegister
	d.afterRegister = nil
	return &hookSocket{fakeSocket: s.(*fakeSocket), afterRegister: hook}, nil
}

type hookSocket struct {
	*fakeSocket
	afterRegister func()
}

func (s *hookSocket) WriteJSON(v any) error {
	err := s.fakeSocket.WriteJSON(v)
	if _, ok := v.(models.RegisterFrame); ok && err == nil {
		s.afterRegister()
	}
	return err
}

type fakeHandshaker struct {
	mu    sync.Mutex
	calls []string
	boot  models.SessionBootstrap
	err   error
}

func (h *fakeHandshaker) Handshake(_ context.Context, sessionID string) (models.SessionBootstrap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, sessionID)
	return h.boot, h.err
}

type status struct {
	state State
	err   error
}

type harness struct {
	clock      *clock.FakeClock
	dialer     *fakeDialer
	store      *store.MemoryStore
	handshaker *fakeHandshaker
	statuses   chan status
	client     *Client
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		clock:      clock.Fake(time.UnixMilli(1_700_000_000_000)),
		dialer:     newFakeDialer(),
		store:      store.NewMemoryStore(),
		handshaker: &fakeHandshaker{},
		statuses:   make(chan status, 256),
	}

	opts := Options{
		Dialer:     h.dialer,
		Handshaker: h.handshaker,
		Store:      h.store,
		Clock:      h.clock,
		PageInfo: func() PageInfo {
			return PageInfo{
				URL:       "https://example.com/app",
				Title:     "App",
				TopOrigin: "https://example.com",
				UserAgent: "test-agent",
			}
		},
		HeartbeatInterval:    5 * time.Second,
		ReconnectBase:        time.Second,
		ReconnectCap:         15 * time.Second,
		MaxReconnectAttempts: 3,
		FreshnessMargin:      30 * time.Second,
		OnStatus: func(s State, err error) {
			h.statuses <- status{s, err}
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	h.client = New(opts)
	t.Cleanup(h.client.Teardown)
	return h
}

func (h *harness) bootstrap(id string, ttl time.Duration) models.SessionBootstrap {
	return models.SessionBootstrap{
		SessionID:    id,
		SessionToken: "tok-" + id,
		SocketURL:    "ws://broker/bridge",
		ExpiresAtMs:  h.clock.Now().Add(ttl).UnixMilli(),
	}
}

// connect starts a session and consumes its register frame
func (h *harness) connect(t *testing.T, b models.SessionBootstrap) *fakeSocket {
	t.Helper()
	if err := h.client.StartSession(context.Background(), b); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sock := h.dialer.next(t)
	if _, ok := sock.next(t).(models.RegisterFrame); !ok {
		t.Fatal("first frame was not a register frame")
	}
	return sock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartSessionRegistersAndHeartbeats(t *testing.T) {
	h := newHarness(t, nil)
	b := h.bootstrap("tab-1", time.Hour)

	if err := h.client.StartSession(context.Background(), b); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sock := h.dialer.next(t)
	if sock.url != "ws://broker/bridge" {
		t.Errorf("dialled %q", sock.url)
	}

	reg, ok := sock.next(t).(models.RegisterFrame)
	if !ok {
		t.Fatal("first frame was not a register frame")
	}
	want := models.RegisterFrame{
		Kind:      models.KindRegister,
		Token:     "tok-tab-1",
		SessionID: "tab-1",
		URL:       "https://example.com/app",
		Title:     "App",
		UserAgent: "test-agent",
		TopOrigin: "https://example.com",
	}
	if reg != want {
		t.Errorf("register frame = %+v, want %+v", reg, want)
	}

	if got := h.client.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if saved, err := h.store.Load(); err != nil || saved.SessionToken != "tok-tab-1" {
		t.Fatalf("stored session = %+v, %v", saved, err)
	}

	h.clock.Advance(5 * time.Second)
	hb, ok := sock.next(t).(models.HeartbeatFrame)
	if !ok || hb.SessionID != "tab-1" {
		t.Fatalf("expected heartbeat for tab-1, got %#v", hb)
	}

	// same session again is a no-op
	if err := h.client.StartSession(context.Background(), b); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestStatusAnnouncements(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, h.bootstrap("tab-1", time.Hour))

	var got []State
	for len(h.statuses) > 0 {
		got = append(got, (<-h.statuses).state)
	}
	if len(got) != 2 || got[0] != StateConnecting || got[1] != StateConnected {
		t.Fatalf("statuses = %v, want [connecting connected]", got)
	}
}

func TestMetadataRecordsCodename(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.push(t, `{"kind":"metadata","sessionId":"tab-1","codename":"calm-otter"}`)
	waitFor(t, "codename", func() bool { return h.client.Codename() == "calm-otter" })

	waitFor(t, "persisted codename", func() bool {
		saved, err := h.store.Load()
		return err == nil && saved.Codename == "calm-otter"
	})
}

func TestCommandsAreAnswered(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.push(t, `{"kind":"command","sessionId":"tab-1","command":{"id":"cmd-1","type":"ping"}}`)
	res, ok := sock.next(t).(models.CommandResultFrame)
	if !ok {
		t.Fatal("expected a commandResult frame")
	}
	if res.SessionID != "tab-1" || !res.Result.OK || res.Result.CommandID != "cmd-1" {
		t.Fatalf("result = %+v", res)
	}
	if string(res.Result.Data) != `{"pong":true}` {
		t.Errorf("data = %s", res.Result.Data)
	}

	sock.push(t, `{"kind":"command","sessionId":"tab-1","command":{"id":"cmd-2","type":"navigate","url":"https://example.com"}}`)
	res, ok = sock.next(t).(models.CommandResultFrame)
	if !ok {
		t.Fatal("expected a commandResult frame")
	}
	if res.Result.OK || res.Result.CommandID != "cmd-2" || !strings.Contains(res.Result.Error, "unsupported") {
		t.Fatalf("result = %+v", res.Result)
	}
}

func TestCustomExecutor(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Executor = ExecutorFunc(func(_ context.Context, cmd models.Command) models.CommandResult {
			data, _ := json.Marshal(map[string]string{"selector": cmd.Selector})
			return models.CommandResult{OK: true, Data: data, DurationMs: 12}
		})
	})
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.push(t, `{"kind":"command","sessionId":"tab-1","command":{"id":"cmd-1","type":"inspect-dom","selector":"#app"}}`)
	res := sock.next(t).(models.CommandResultFrame)
	if res.Result.CommandID != "cmd-1" || res.Result.DurationMs != 12 {
		t.Fatalf("result = %+v", res.Result)
	}
	if string(res.Result.Data) != `{"selector":"#app"}` {
		t.Errorf("data = %s", res.Result.Data)
	}
}

func TestReconnectBackoffUntilExhausted(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	h.dialer.failNext(10)
	sock.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)

	if got := h.client.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}

	h.clock.Advance(999 * time.Millisecond)
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d before the first delay elapsed", n)
	}

	steps := []struct {
		advance time.Duration
		dials   int
	}{
		{time.Millisecond, 2},
		{2 * time.Second, 3},
		{4 * time.Second, 4},
	}
	for _, step := range steps {
		h.clock.Advance(step.advance)
		if n := h.dialer.dials(); n != step.dials {
			t.Fatalf("after advancing %s: dials = %d, want %d", step.advance, n, step.dials)
		}
	}

	if got := h.client.State(); got != StateError {
		t.Fatalf("state = %s, want error", got)
	}
	if h.client.reconnectScheduled() {
		t.Fatal("reconnect still scheduled after giving up")
	}

	var last status
	for len(h.statuses) > 0 {
		last = <-h.statuses
	}
	if !errors.Is(last.err, ErrReconnectExhausted) {
		t.Fatalf("last status error = %v", last.err)
	}

	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 4 {
		t.Fatalf("dials = %d after giving up", n)
	}
}

func TestReconnectResumesStoredSession(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.drop(&websocket.CloseError{Code: websocket.CloseGoingAway})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)
	h.clock.Advance(time.Second)

	sock2 := h.dialer.next(t)
	reg, ok := sock2.next(t).(models.RegisterFrame)
	if !ok || reg.SessionID != "tab-1" || reg.Token != "tok-tab-1" {
		t.Fatalf("re-register = %+v", reg)
	}
	if got := h.client.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if len(h.handshaker.calls) != 0 {
		t.Fatalf("handshaker called %d times for a fresh stored session", len(h.handshaker.calls))
	}

	// a successful open resets the backoff
	sock2.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "second reconnect", h.client.reconnectScheduled)
	h.clock.Advance(time.Second)
	h.dialer.next(t)
}

func TestReconnectHandshakesWhenStoredSessionIsStale(t *testing.T) {
	h := newHarness(t, nil)
	h.handshaker.boot = models.SessionBootstrap{
		SessionID:    "tab-1",
		SessionToken: "tok-renewed",
		SocketURL:    "ws://broker/bridge2",
		ExpiresAtMs:  h.clock.Now().Add(time.Hour).UnixMilli(),
	}
	// expires inside the freshness margin
	sock := h.connect(t, h.bootstrap("tab-1", 10*time.Second))

	sock.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)
	h.clock.Advance(time.Second)

	sock2 := h.dialer.next(t)
	if sock2.url != "ws://broker/bridge2" {
		t.Fatalf("dialled %q", sock2.url)
	}
	reg := sock2.next(t).(models.RegisterFrame)
	if reg.Token != "tok-renewed" {
		t.Fatalf("register token = %q", reg.Token)
	}
	if len(h.handshaker.calls) != 1 || h.handshaker.calls[0] != "tab-1" {
		t.Fatalf("handshaker calls = %v", h.handshaker.calls)
	}
	if saved, _ := h.store.Load(); saved.SessionToken != "tok-renewed" {
		t.Fatalf("stored token = %q", saved.SessionToken)
	}
}

func TestUnauthorizedHandshakeDisablesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.handshaker.err = fmt.Errorf("%w: token expired", ErrUnauthorized)
	sock := h.connect(t, h.bootstrap("tab-1", 10*time.Second))

	sock.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)
	h.clock.Advance(time.Second)

	if got := h.client.State(); got != StateError {
		t.Fatalf("state = %s, want error", got)
	}
	if _, err := h.store.Load(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("store not cleared: %v", err)
	}

	var last status
	for len(h.statuses) > 0 {
		last = <-h.statuses
	}
	if !errors.Is(last.err, ErrUnauthorized) {
		t.Fatalf("last status error = %v", last.err)
	}

	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestAuthCloseForcesHandshake(t *testing.T) {
	h := newHarness(t, nil)
	h.handshaker.boot = models.SessionBootstrap{
		SessionID:    "tab-1",
		SessionToken: "tok-new",
		SocketURL:    "ws://broker/bridge",
		ExpiresAtMs:  h.clock.Now().Add(time.Hour).UnixMilli(),
	}
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.drop(&websocket.CloseError{Code: models.CloseAuthError, Text: "invalid token"})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)
	if _, err := h.store.Load(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stored session survived an auth close: %v", err)
	}

	h.clock.Advance(time.Second)
	reg := h.dialer.next(t).next(t).(models.RegisterFrame)
	if reg.Token != "tok-new" {
		t.Fatalf("register token = %q, want the handshaken one", reg.Token)
	}
}

func TestReplacedDisconnectSuppressesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.push(t, fmt.Sprintf(`{"kind":"disconnect","reason":%q}`, models.DisconnectReplaced))
	waitFor(t, "disconnect frame to be read", func() bool { return len(sock.in) == 0 })
	sock.drop(&websocket.CloseError{Code: models.CloseReplaced})

	waitFor(t, "idle", func() bool { return h.client.State() == StateIdle })
	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	if h.client.reconnectScheduled() {
		t.Fatal("reconnect scheduled after being replaced")
	}
}

func TestTeardownCancelsReconnect(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))

	sock.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnect to be scheduled", h.client.reconnectScheduled)

	h.client.Teardown()
	if h.client.reconnectScheduled() {
		t.Fatal("reconnect still scheduled after Teardown")
	}
	if n := h.clock.Pending(); n != 0 {
		t.Fatalf("%d timers pending after Teardown", n)
	}

	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	if got := h.client.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestTeardownDuringRegisterWins(t *testing.T) {
	d := &hookDialer{}
	h := newHarness(t, func(o *Options) { o.Dialer = d })
	d.fakeDialer = h.dialer
	d.afterRegister = func() { h.client.Teardown() }

	err := h.client.StartSession(context.Background(), h.bootstrap("tab-1", time.Hour))
	if !errors.Is(err, errSuperseded) {
		t.Fatalf("StartSession = %v, want superseded", err)
	}
	sock := h.dialer.next(t)
	if !sock.isClosed() {
		t.Fatal("socket left open after Teardown")
	}

	if got := h.client.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if n := h.clock.Pending(); n != 0 {
		t.Fatalf("%d timers pending after Teardown", n)
	}
	if saved, err := h.store.Load(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stored session after Teardown = %+v, %v", saved, err)
	}
	for len(h.statuses) > 0 {
		if st := <-h.statuses; st.state == StateConnected {
			t.Fatal("connected announced for a torn down connection")
		}
	}

	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestStartSessionDuringRegisterLeavesOneConnection(t *testing.T) {
	d := &hookDialer{}
	h := newHarness(t, func(o *Options) { o.Dialer = d })
	d.fakeDialer = h.dialer
	d.afterRegister = func() {
		if err := h.client.StartSession(context.Background(), h.bootstrap("tab-2", time.Hour)); err != nil {
			t.Errorf("nested StartSession: %v", err)
		}
	}

	err := h.client.StartSession(context.Background(), h.bootstrap("tab-1", time.Hour))
	if !errors.Is(err, errSuperseded) {
		t.Fatalf("StartSession = %v, want superseded", err)
	}
	sock1 := h.dialer.next(t)
	sock2 := h.dialer.next(t)
	if !sock1.isClosed() || sock2.isClosed() {
		t.Fatalf("closed: first=%v second=%v", sock1.isClosed(), sock2.isClosed())
	}
	if reg := sock2.next(t).(models.RegisterFrame); reg.SessionID != "tab-2" {
		t.Fatalf("second register = %+v", reg)
	}

	if got := h.client.State(); got != StateConnected {
		t.Fatalf("state = %s", got)
	}
	if got := h.client.SessionID(); got != "tab-2" {
		t.Fatalf("session = %q", got)
	}
	// only the live connection's heartbeat
	if n := h.clock.Pending(); n != 1 {
		t.Fatalf("%d timers pending, want 1", n)
	}
	if saved, err := h.store.Load(); err != nil || saved.SessionID != "tab-2" {
		t.Fatalf("stored session = %+v, %v", saved, err)
	}

	h.client.Console().Log(models.ConsoleInfo, "after switch")
	h.clock.Advance(DefaultConsoleFlushDelay)
	frame, ok := sock2.next(t).(models.ConsoleFrame)
	if !ok || frame.SessionID != "tab-2" {
		t.Fatalf("console frame = %#v", frame)
	}
}

func TestDialFailureAnnouncesIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.handshaker.boot = h.bootstrap("tab-1", time.Hour)
	h.dialer.failNext(1)

	if err := h.client.StartSession(context.Background(), h.bootstrap("tab-1", time.Hour)); err == nil {
		t.Fatal("StartSession succeeded with a failing dialer")
	}
	var got []State
	for len(h.statuses) > 0 {
		got = append(got, (<-h.statuses).state)
	}
	if len(got) != 2 || got[0] != StateConnecting || got[1] != StateIdle {
		t.Fatalf("statuses = %v, want [connecting idle]", got)
	}
	if !h.client.reconnectScheduled() {
		t.Fatal("no reconnect scheduled after a failed dial")
	}

	h.clock.Advance(time.Second)
	h.dialer.next(t)
	waitFor(t, "connected", func() bool { return h.client.State() == StateConnected })
}

func TestStartSessionReplacesConnection(t *testing.T) {
	h := newHarness(t, nil)
	sock1 := h.connect(t, h.bootstrap("tab-1", time.Hour))
	sock2 := h.connect(t, h.bootstrap("tab-2", time.Hour))

	if !sock1.isClosed() {
		t.Fatal("previous socket left open")
	}
	if sock2.isClosed() {
		t.Fatal("new socket closed")
	}

	// the deliberate close of sock1 must not schedule a reconnect
	h.clock.Advance(time.Minute)
	if n := h.dialer.dials(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
	if got := h.client.SessionID(); got != "tab-2" {
		t.Fatalf("session = %q", got)
	}
	if got := h.client.State(); got != StateConnected {
		t.Fatalf("state = %s", got)
	}
}

func TestConsoleShippedWhileConnected(t *testing.T) {
	h := newHarness(t, nil)

	h.client.Console().Log(models.ConsoleInfo, "before connect")
	sock := h.connect(t, h.bootstrap("tab-1", time.Hour))
	h.client.Console().Log(models.ConsoleError, "boom", map[string]int{"code": 7})

	h.clock.Advance(DefaultConsoleFlushDelay)
	frame, ok := sock.next(t).(models.ConsoleFrame)
	if !ok {
		t.Fatal("expected a console frame")
	}
	if frame.SessionID != "tab-1" || len(frame.Events) != 2 {
		t.Fatalf("console frame = %+v", frame)
	}
	if frame.Events[1].Level != models.ConsoleError || string(frame.Events[1].Args[1]) != `{"code":7}` {
		t.Fatalf("second event = %+v", frame.Events[1])
	}
}

func TestBackoff(t *testing.T) {
	base, ceiling := time.Second, 15*time.Second
	want := []time.Duration{1, 2, 4, 8, 15, 15, 15}
	for attempts, w := range want {
		if got := backoff(base, ceiling, attempts); got != w*time.Second {
			t.Errorf("backoff(%d) = %s, want %s", attempts, got, w*time.Second)
		}
	}
	if got := backoff(base, ceiling, 200); got != ceiling {
		t.Errorf("backoff(200) = %s", got)
	}
}
