package models

import (
	"strings"
	"testing"
)

func TestCommandValidate(t *testing.T) {
	quality := func(q float64) *float64 { return &q }
	limit := func(n int) *int { return &n }

	tests := []struct {
		name string
		cmd  Command
		want string // empty means valid
	}{
		{"ping", Command{Type: CommandPing}, ""},
		{"missing type", Command{}, "type is required"},
		{"unknown type", Command{Type: "reload"}, "unknown command type"},
		{"negative timeout", Command{Type: CommandPing, TimeoutMs: -1}, "timeoutMs"},

		{"run-script", Command{Type: CommandRunScript, Code: "1+1", CaptureConsole: true}, ""},
		{"run-script without code", Command{Type: CommandRunScript}, "requires code"},

		{"inspect-dom", Command{Type: CommandInspectDOM, Selector: "#app"}, ""},
		{"inspect-dom without selector", Command{Type: CommandInspectDOM}, "requires selector"},

		{"navigate", Command{Type: CommandNavigate, URL: "https://example.com/path"}, ""},
		{"navigate without url", Command{Type: CommandNavigate}, "requires url"},
		{"navigate relative", Command{Type: CommandNavigate, URL: "/path"}, "absolute"},
		{"navigate other scheme", Command{Type: CommandNavigate, URL: "file:///etc/passwd"}, "absolute"},

		{"screenshot default", Command{Type: CommandScreenshot}, ""},
		{"screenshot element", Command{Type: CommandScreenshot, Mode: ScreenshotElement, Selector: "img"}, ""},
		{"screenshot element without selector", Command{Type: CommandScreenshot, Mode: ScreenshotElement}, "require selector"},
		{"screenshot bad mode", Command{Type: CommandScreenshot, Mode: "window"}, "unknown screenshot mode"},
		{"screenshot quality", Command{Type: CommandScreenshot, Quality: quality(0.8)}, ""},
		{"screenshot quality too high", Command{Type: CommandScreenshot, Quality: quality(1.5)}, "quality"},

		{"discover-selectors", Command{Type: CommandDiscoverSelectors, ScopeSelector: "main", Limit: limit(10)}, ""},
		{"discover-selectors zero limit", Command{Type: CommandDiscoverSelectors, Limit: limit(0)}, ""},
		{"discover-selectors negative limit", Command{Type: CommandDiscoverSelectors, Limit: limit(-1)}, "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
