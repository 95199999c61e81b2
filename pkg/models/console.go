package models

import (
	"encoding/json"
	"time"
)

// ConsoleLevel mirrors the browser console method that produced an event
type ConsoleLevel string

const (
	ConsoleLog   ConsoleLevel = "log"
	ConsoleDebug ConsoleLevel = "debug"
	ConsoleInfo  ConsoleLevel = "info"
	ConsoleWarn  ConsoleLevel = "warn"
	ConsoleError ConsoleLevel = "error"
)

// ConsoleEvent is one captured console call. Timestamp is in Unix
// milliseconds; zero means the client did not stamp it.
type ConsoleEvent struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Level     ConsoleLevel      `json:"level"`
	Args      []json.RawMessage `json:"args"`
}

// Time returns the event timestamp, or fallback when it is unset
func (e ConsoleEvent) Time(fallback time.Time) time.Time {
	if e.Timestamp <= 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp)
}
