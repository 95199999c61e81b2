package models

// CommandRequest is the payload for POST /sessions/{id}/command
type CommandRequest struct {
	Command   *Command `json:"command"`
	TimeoutMs int      `json:"timeoutMs,omitempty"`
}

// CommandResponse wraps the tab's result
type CommandResponse struct {
	Result *CommandResult `json:"result"`
}

// SessionsResponse is returned by GET /sessions
type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ConsoleResponse is returned by GET /sessions/{id}/console
type ConsoleResponse struct {
	SessionID string         `json:"sessionId"`
	Events    []ConsoleEvent `json:"events"`
}

// HandshakeRequest is the payload for POST /sessions/handshake. An empty
// SessionID asks the broker to pick one.
type HandshakeRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ErrorResponse is the body of every 4xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}
