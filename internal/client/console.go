package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

const (
	DefaultConsoleLimit      = 200
	DefaultConsoleFlushDelay = 250 * time.Millisecond
)

// ConsoleSink receives a batch of console events. An error puts the batch
// back in front of the buffer.
type ConsoleSink func(events []models.ConsoleEvent) error

// Recorder buffers console events and ships them in batches once a sink is
// attached. Events logged while detached wait for the next attach.
type Recorder struct {
	clock clock.Clock
	limit int
	delay time.Duration

	mu    sync.Mutex
	buf   []models.ConsoleEvent
	seq   uint64
	sink  ConsoleSink
	timer *clock.Timer
}

func NewRecorder(clk clock.Clock, limit int, delay time.Duration) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	if limit <= 0 {
		limit = DefaultConsoleLimit
	}
	if delay <= 0 {
		delay = DefaultConsoleFlushDelay
	}
	return &Recorder{clock: clk, limit: limit, delay: delay}
}

// Log records one console call. Each arg is encoded as JSON; values that
// cannot be encoded are recorded as their %v string.
func (r *Recorder) Log(level models.ConsoleLevel, args ...any) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		if m, ok := a.(json.RawMessage); ok && json.Valid(m) {
			raw = append(raw, m)
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			b, _ = json.Marshal(fmt.Sprintf("%v", a))
		}
		raw = append(raw, b)
	}
	r.record(level, raw)
}

func (r *Recorder) record(level models.ConsoleLevel, args []json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.buf = append(r.buf, models.ConsoleEvent{
		ID:        "c" + strconv.FormatUint(r.seq, 10),
		Timestamp: r.clock.Now().UnixMilli(),
		Level:     level,
		Args:      args,
	})
	r.trimLocked()
	r.scheduleLocked()
}

func (r *Recorder) trimLocked() {
	if over := len(r.buf) - r.limit; over > 0 {
		r.buf = append(r.buf[:0:0], r.buf[over:]...)
	}
}

func (r *Recorder) scheduleLocked() {
	if r.sink == nil || r.timer != nil || len(r.buf) == 0 {
		return
	}
	r.timer = r.clock.AfterFunc(r.delay, func() {
		r.mu.Lock()
		r.timer = nil
		r.mu.Unlock()
		r.Flush()
	})
}

// Write lets the recorder sit behind a zerolog logger. Each write is one
// JSON log line; its level field picks the console level and the line
// itself becomes the event's second argument.
func (r *Recorder) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)
	if len(line) == 0 {
		return len(p), nil
	}

	var entry struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if !json.Valid(line) || json.Unmarshal(line, &entry) != nil {
		r.Log(models.ConsoleLog, string(line))
		return len(p), nil
	}

	msg, _ := json.Marshal(entry.Message)
	obj := make(json.RawMessage, len(line))
	copy(obj, line)
	r.record(levelFor(entry.Level), []json.RawMessage{msg, obj})
	return len(p), nil
}

func levelFor(zerologLevel string) models.ConsoleLevel {
	switch zerologLevel {
	case "trace", "debug":
		return models.ConsoleDebug
	case "info":
		return models.ConsoleInfo
	case "warn":
		return models.ConsoleWarn
	case "error", "fatal", "panic":
		return models.ConsoleError
	}
	return models.ConsoleLog
}

// Attach starts shipping events to sink, beginning with anything buffered
func (r *Recorder) Attach(sink ConsoleSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	r.scheduleLocked()
}

// Detach stops shipping. Buffered events are kept.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = nil
	r.timer.Stop()
	r.timer = nil
}

// Flush sends everything buffered as one batch. It is a no-op while
// detached.
func (r *Recorder) Flush() {
	r.mu.Lock()
	sink := r.sink
	if sink == nil || len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if err := sink(batch); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		r.trimLocked()
		r.mu.Unlock()
	}
}

// Len is the number of events waiting to be shipped
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
