package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

func TestHTTPHandshaker(t *testing.T) {
	var gotAuth string
	var gotReq models.HandshakeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions/handshake" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(models.SessionBootstrap{
			SessionID:    gotReq.SessionID,
			SessionToken: "session-token",
			SocketURL:    "ws://localhost/bridge",
			ExpiresAtMs:  1_700_000_000_000,
		})
	}))
	defer srv.Close()

	h := &HTTPHandshaker{BaseURL: srv.URL + "/", Token: "cli-token"}
	boot, err := h.Handshake(context.Background(), "tab-9")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if gotAuth != "Bearer cli-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.SessionID != "tab-9" {
		t.Errorf("requested session %q", gotReq.SessionID)
	}
	if boot.SessionID != "tab-9" || boot.SessionToken != "session-token" || boot.SocketURL != "ws://localhost/bridge" {
		t.Fatalf("bootstrap = %+v", boot)
	}
}

func TestHTTPHandshakerErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
		{"server error", http.StatusInternalServerError, false},
		{"rate limited", http.StatusTooManyRequests, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: "nope"})
			}))
			defer srv.Close()

			h := &HTTPHandshaker{BaseURL: srv.URL, Token: "cli-token"}
			_, err := h.Handshake(context.Background(), "")
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, ErrUnauthorized) != tt.unauthorized {
				t.Fatalf("errors.Is(%v, ErrUnauthorized) = %v", err, !tt.unauthorized)
			}
		})
	}
}
