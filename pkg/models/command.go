package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// CommandType discriminates the commands a tab can execute
type CommandType string

const (
	CommandRunScript         CommandType = "run-script"
	CommandInspectDOM        CommandType = "inspect-dom"
	CommandNavigate          CommandType = "navigate"
	CommandPing              CommandType = "ping"
	CommandScreenshot        CommandType = "screenshot"
	CommandDiscoverSelectors CommandType = "discover-selectors"
)

// Screenshot modes
const (
	ScreenshotPage    = "page"
	ScreenshotElement = "element"
)

// Command is an instruction pushed from the broker to a tab. Only the
// fields that belong to Type are meaningful; ID is always assigned by the
// broker.
type Command struct {
	ID   string      `json:"id,omitempty"`
	Type CommandType `json:"type"`

	// run-script
	Code           string `json:"code,omitempty"`
	CaptureConsole bool   `json:"captureConsole,omitempty"`

	// inspect-dom, screenshot (element mode)
	Selector string `json:"selector,omitempty"`

	// navigate
	URL string `json:"url,omitempty"`

	// screenshot
	Mode     string   `json:"mode,omitempty"`
	Quality  *float64 `json:"quality,omitempty"`
	Renderer string   `json:"renderer,omitempty"`

	// discover-selectors
	ScopeSelector string `json:"scopeSelector,omitempty"`
	Limit         *int   `json:"limit,omitempty"`
	IncludeHidden bool   `json:"includeHidden,omitempty"`

	// Client-side budget for run-script and screenshot. Independent of
	// the broker's own deadline.
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// Validate checks the type-specific parameters of c
func (c *Command) Validate() error {
	if c.TimeoutMs < 0 {
		return errors.New("timeoutMs must not be negative")
	}

	switch c.Type {
	case "":
		return errors.New("type is required")
	case CommandPing:
		return nil
	case CommandRunScript:
		if c.Code == "" {
			return errors.New("run-script requires code")
		}
	case CommandInspectDOM:
		if c.Selector == "" {
			return errors.New("inspect-dom requires selector")
		}
	case CommandNavigate:
		if c.URL == "" {
			return errors.New("navigate requires url")
		}
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("navigate url %q must be an absolute http(s) URL", c.URL)
		}
	case CommandScreenshot:
		switch c.Mode {
		case "", ScreenshotPage:
		case ScreenshotElement:
			if c.Selector == "" {
				return errors.New("element screenshots require selector")
			}
		default:
			return fmt.Errorf("unknown screenshot mode %q", c.Mode)
		}
		if c.Quality != nil && (*c.Quality < 0 || *c.Quality > 1) {
			return errors.New("quality must be between 0 and 1")
		}
	case CommandDiscoverSelectors:
		if c.Limit != nil && *c.Limit < 0 {
			return errors.New("limit must not be negative")
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// CommandResult is a tab's answer to a Command. OK selects between the
// success fields (Data) and the failure fields (Error, Stack).
type CommandResult struct {
	OK         bool            `json:"ok"`
	CommandID  string          `json:"commandId"`
	DurationMs float64         `json:"durationMs"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stack      string          `json:"stack,omitempty"`
	Console    []ConsoleEvent  `json:"console,omitempty"`
}
