package jwt

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped on every token and required when parsing.
const Issuer = "bus-tracker"

// Role is the kind of principal a token was issued to.
type Role string

const (
	// RoleDriver tokens are bound to one ride session (the subject).
	RoleDriver Role = "DRIVER"
	// RoleOperator tokens may stop any ride.
	RoleOperator Role = "OPERATOR"
)

func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleOperator
}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Claims defines our canonical JWT claims payload.
type Claims struct {
	Role   Role   `json:"role"`             // DRIVER or OPERATOR
	Driver string `json:"driver,omitempty"` // driver identity that started the session
	jwtlib.RegisteredClaims
}

// ensure Claims implements jwtlib.Claims interface
var _ jwtlib.Claims = (*Claims)(nil)

// NewSessionClaims constructs claims whose subject is the ride session id.
func NewSessionClaims(sessionID, driverIdentity string, role Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role:   role,
		Driver: driverIdentity,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   sessionID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}

// SessionID is the ride session the token controls.
func (c *Claims) SessionID() string {
	return c.Subject
}

// CanControl reports whether the holder may stop or feed the given session.
func (c *Claims) CanControl(sessionID string) bool {
	if c == nil {
		return false
	}
	return c.Role == RoleOperator || (c.Role == RoleDriver && c.Subject == sessionID)
}
