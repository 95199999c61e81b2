package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/sweetlink/internal/auth"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

const maxSessionIDLength = 128

// TokenIssuer mints session tokens for new tabs
type TokenIssuer interface {
	Issue(scope auth.Scope, subject string, ttl time.Duration) (string, time.Time, error)
}

// HandshakeHandler hands out session bootstraps
type HandshakeHandler struct {
	issuer    TokenIssuer
	socketURL string
	ttl       time.Duration
}

// NewHandshakeHandler creates a handler issuing session tokens valid for
// ttl that point tabs at socketURL
func NewHandshakeHandler(issuer TokenIssuer, socketURL string, ttl time.Duration) *HandshakeHandler {
	return &HandshakeHandler{
		issuer:    issuer,
		socketURL: socketURL,
		ttl:       ttl,
	}
}

// Handshake handles POST /sessions/handshake
func (h *HandshakeHandler) Handshake(w http.ResponseWriter, r *http.Request) {
	var req models.HandshakeRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	} else if err := validateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expiresAt, err := h.issuer.Issue(auth.ScopeSession, req.SessionID, h.ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "issuing session token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.SessionBootstrap{
		SessionID:    req.SessionID,
		SessionToken: token,
		SocketURL:    h.socketURL,
		ExpiresAtMs:  expiresAt.UnixMilli(),
	})
}

func validateSessionID(id string) error {
	if len(id) > maxSessionIDLength {
		return errors.New("sessionId is too long")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.New("sessionId must not contain whitespace or control characters")
		}
	}
	return nil
}
