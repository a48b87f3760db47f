package jwt

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrBadAuthMsg   = errors.New("invalid auth message")
	ErrBadTokenWrap = errors.New("token must be 'Bearer <token>'")
)

// DriverAuthFrame is the first frame a driver feed sends:
// { "type":"auth", "token":"Bearer <jwt>" }
type DriverAuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// DriverAuth is an accepted driver feed: the session it may publish positions into.
type DriverAuth struct {
	SessionID string
	Driver    string
	Claims    *Claims
}

// ValidateDriverFrame parses the first frame of a driver feed. Only DRIVER tokens
// pass, and they always name a session; whether that session is still active is
// for the caller to check against the store.
func ValidateDriverFrame(frame []byte, mgr *Manager) (*DriverAuth, error) {
	var msg DriverAuthFrame
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, ErrBadAuthMsg
	}
	if !strings.EqualFold(strings.TrimSpace(msg.Type), "auth") {
		return nil, ErrBadAuthMsg
	}

	scheme, raw, ok := strings.Cut(strings.TrimSpace(msg.Token), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrBadTokenWrap
	}

	_, claims, err := mgr.ParseAndValidate(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	// operators control sessions over HTTP but never feed positions
	if err := RoleAllowed(claims, RoleDriver); err != nil {
		return nil, err
	}

	return &DriverAuth{SessionID: claims.SessionID(), Driver: claims.Driver, Claims: claims}, nil
}
