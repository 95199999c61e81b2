package models

import "time"

// SocketState is the broker's view of a session socket
type SocketState string

const (
	SocketOpen   SocketState = "open"
	SocketClosed SocketState = "closed"
)

// SessionMetadata describes the tab behind a session
type SessionMetadata struct {
	UserAgent string    `json:"userAgent"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	TopOrigin string    `json:"topOrigin"`
	Codename  string    `json:"codename"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionSummary is the control-plane snapshot of one live session
type SessionSummary struct {
	SessionID           string          `json:"sessionId"`
	Metadata            SessionMetadata `json:"metadata"`
	LastHeartbeatAt     time.Time       `json:"lastHeartbeatAt"`
	HeartbeatAgeMs      int64           `json:"heartbeatAgeMs"`
	ConsoleEventCount   int             `json:"consoleEventCount"`
	ConsoleErrorCount   int             `json:"consoleErrorCount"`
	PendingCommandCount int             `json:"pendingCommandCount"`
	LastConsoleEventAt  *time.Time      `json:"lastConsoleEventAt,omitempty"`
	SocketState         SocketState     `json:"socketState"`
}

// SessionBootstrap is everything a tab needs to open its socket
type SessionBootstrap struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	SocketURL    string `json:"socketUrl"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
}

// ExpiresAt converts ExpiresAtMs to a time.Time
func (b SessionBootstrap) ExpiresAt() time.Time {
	return time.UnixMilli(b.ExpiresAtMs)
}
