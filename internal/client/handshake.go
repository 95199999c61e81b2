package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

// ErrUnauthorized means the broker rejected our credentials. Retrying will
// not help.
var ErrUnauthorized = errors.New("unauthorized")

// Handshaker obtains a fresh session bootstrap. sessionID is the session
// the caller would like to keep; it may be empty.
type Handshaker interface {
	Handshake(ctx context.Context, sessionID string) (models.SessionBootstrap, error)
}

// HTTPHandshaker asks the control plane for a bootstrap with a cli token
type HTTPHandshaker struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (h *HTTPHandshaker) Handshake(ctx context.Context, sessionID string) (models.SessionBootstrap, error) {
	var boot models.SessionBootstrap

	body, err := json.Marshal(models.HandshakeRequest{SessionID: sessionID})
	if err != nil {
		return boot, err
	}

	url := strings.TrimRight(h.BaseURL, "/") + "/sessions/handshake"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return boot, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Token)

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return boot, fmt.Errorf("handshake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e models.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return boot, fmt.Errorf("%w: %s", ErrUnauthorized, e.Error)
		}
		return boot, fmt.Errorf("handshake failed with status %d: %s", resp.StatusCode, e.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		return boot, fmt.Errorf("decoding bootstrap: %w", err)
	}
	return boot, nil
}
