package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// FrameKind is the discriminator carried by every socket frame
type FrameKind string

const (
	// client -> broker
	KindRegister      FrameKind = "register"
	KindHeartbeat     FrameKind = "heartbeat"
	KindCommandResult FrameKind = "commandResult"
	KindConsole       FrameKind = "console"

	// broker -> client
	KindCommand    FrameKind = "command"
	KindMetadata   FrameKind = "metadata"
	KindDisconnect FrameKind = "disconnect"
)

// Disconnect reasons sent by the broker
const (
	DisconnectReplaced = "replaced by a new registration"
	DisconnectStale    = "missed heartbeats"
	DisconnectShutdown = "broker shutting down"
	DisconnectOperator = "disconnected by control plane"
)

// Close codes the broker uses when it drops a socket on its own
const (
	CloseNormal    = 1000
	CloseShutdown  = 1001
	CloseReplaced  = 4000
	CloseStale     = 4001
	CloseOperator  = 4002
	CloseAuthError = 4401
)

// InboundFrame is one of RegisterFrame, HeartbeatFrame,
// CommandResultFrame or ConsoleFrame.
type InboundFrame interface {
	FrameKind() FrameKind
	Session() string
}

type RegisterFrame struct {
	Kind      FrameKind `json:"kind"`
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	UserAgent string    `json:"userAgent"`
	TopOrigin string    `json:"topOrigin"`
}

type HeartbeatFrame struct {
	Kind      FrameKind `json:"kind"`
	SessionID string    `json:"sessionId"`
}

type CommandResultFrame struct {
	Kind      FrameKind     `json:"kind"`
	SessionID string        `json:"sessionId"`
	Result    CommandResult `json:"result"`
}

type ConsoleFrame struct {
	Kind      FrameKind      `json:"kind"`
	SessionID string         `json:"sessionId"`
	Events    []ConsoleEvent `json:"events"`
}

func (f *RegisterFrame) FrameKind() FrameKind      { return KindRegister }
func (f *RegisterFrame) Session() string           { return f.SessionID }
func (f *HeartbeatFrame) FrameKind() FrameKind     { return KindHeartbeat }
func (f *HeartbeatFrame) Session() string          { return f.SessionID }
func (f *CommandResultFrame) FrameKind() FrameKind { return KindCommandResult }
func (f *CommandResultFrame) Session() string      { return f.SessionID }
func (f *ConsoleFrame) FrameKind() FrameKind       { return KindConsole }
func (f *ConsoleFrame) Session() string            { return f.SessionID }

// CommandFrame carries a command to the tab
type CommandFrame struct {
	Kind      FrameKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Command   Command   `json:"command"`
}

// MetadataFrame acknowledges a registration
type MetadataFrame struct {
	Kind      FrameKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Codename  string    `json:"codename"`
}

// DisconnectFrame tells the tab why the broker is dropping it
type DisconnectFrame struct {
	Kind   FrameKind `json:"kind"`
	Reason string    `json:"reason"`
}

func NewCommandFrame(sessionID string, cmd Command) CommandFrame {
	return CommandFrame{Kind: KindCommand, SessionID: sessionID, Command: cmd}
}

func NewMetadataFrame(sessionID, codename string) MetadataFrame {
	return MetadataFrame{Kind: KindMetadata, SessionID: sessionID, Codename: codename}
}

func NewDisconnectFrame(reason string) DisconnectFrame {
	return DisconnectFrame{Kind: KindDisconnect, Reason: reason}
}

// MalformedFrameError reports a frame that could not be decoded or failed
// validation. The connection that sent it stays open.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedFrameError{Reason: reason, Err: err}
}

type frameEnvelope struct {
	Kind FrameKind `json:"kind"`
}

func decodeEnvelope(data []byte) (FrameKind, error) {
	if !utf8.Valid(data) {
		return "", malformed("frame is not valid UTF-8", nil)
	}
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", malformed("invalid JSON", err)
	}
	if env.Kind == "" {
		return "", malformed("missing kind", nil)
	}
	return env.Kind, nil
}

// ParseInboundFrame decodes and validates a client->broker frame
func ParseInboundFrame(data []byte) (InboundFrame, error) {
	kind, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindRegister:
		var f RegisterFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid register frame", err)
		}
		if f.SessionID == "" {
			return nil, malformed("register frame missing sessionId", nil)
		}
		if f.Token == "" {
			return nil, malformed("register frame missing token", nil)
		}
		return &f, nil

	case KindHeartbeat:
		var f HeartbeatFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid heartbeat frame", err)
		}
		if f.SessionID == "" {
			return nil, malformed("heartbeat frame missing sessionId", nil)
		}
		return &f, nil

	case KindCommandResult:
		var probe struct {
			Result *struct {
				OK *bool `json:"ok"`
			} `json:"result"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, malformed("invalid commandResult frame", err)
		}
		if probe.Result == nil || probe.Result.OK == nil {
			return nil, malformed("commandResult frame missing result.ok", nil)
		}
		var f CommandResultFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid commandResult frame", err)
		}
		if f.SessionID == "" {
			return nil, malformed("commandResult frame missing sessionId", nil)
		}
		if f.Result.CommandID == "" {
			return nil, malformed("commandResult frame missing result.commandId", nil)
		}
		return &f, nil

	case KindConsole:
		var f ConsoleFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid console frame", err)
		}
		if f.SessionID == "" {
			return nil, malformed("console frame missing sessionId", nil)
		}
		if f.Events == nil {
			return nil, malformed("console frame missing events", nil)
		}
		return &f, nil
	}

	return nil, malformed(fmt.Sprintf("unknown frame kind %q", kind), nil)
}

// OutboundFrame is one of CommandFrame, MetadataFrame or DisconnectFrame
type OutboundFrame interface {
	FrameKind() FrameKind
}

func (CommandFrame) FrameKind() FrameKind    { return KindCommand }
func (MetadataFrame) FrameKind() FrameKind   { return KindMetadata }
func (DisconnectFrame) FrameKind() FrameKind { return KindDisconnect }

// ParseOutboundFrame decodes a broker->client frame
func ParseOutboundFrame(data []byte) (OutboundFrame, error) {
	kind, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindCommand:
		var f CommandFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid command frame", err)
		}
		if f.Command.ID == "" {
			return nil, malformed("command frame missing command.id", nil)
		}
		return f, nil
	case KindMetadata:
		var f MetadataFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid metadata frame", err)
		}
		return f, nil
	case KindDisconnect:
		var f DisconnectFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed("invalid disconnect frame", err)
		}
		return f, nil
	}

	return nil, malformed(fmt.Sprintf("unknown frame kind %q", kind), nil)
}

// IsMalformed reports whether err is a MalformedFrameError
func IsMalformed(err error) bool {
	var m *MalformedFrameError
	return errors.As(err, &m)
}
