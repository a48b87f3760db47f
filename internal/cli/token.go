package cli

import (
	"fmt"
	"io"
	"time"

	"bus-tracker/internal/general/jwt"
)

// GenerateSessionToken mints a JWT for a ride session.
// DRIVER tokens are bound to sessionID; OPERATOR tokens may leave it empty and control every session.
//
// Typical use (dev-only):
//
//	token, _, err := cli.GenerateSessionToken(secret, 2*time.Hour,
//	    "", "ops-desk", "OPERATOR")
//
// Keep this package dev/internal only. Do not call it from production code paths.
func GenerateSessionToken(secret string, ttl time.Duration, sessionID, driverIdentity, roleStr string) (string, jwt.Claims, error) {
	// parse and validate the role
	role, err := jwt.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	// set up a new JWT manager
	mgr := jwt.NewManager(secret, ttl)

	// generate the JWT token for the session and role
	token, claims, err := mgr.IssueSessionToken(sessionID, driverIdentity, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}

// PrintToken writes the token and its main claims in a copy-friendly layout.
func PrintToken(w io.Writer, token string, claims jwt.Claims) {
	fmt.Fprintln(w, "TOKEN:")
	fmt.Fprintln(w, token)
	fmt.Fprintln(w, "\nCLAIMS:")
	fmt.Fprintf(w, "  sub:    %s\n", claims.Subject)
	fmt.Fprintf(w, "  role:   %s\n", claims.Role)
	fmt.Fprintf(w, "  driver: %s\n", claims.Driver)
	fmt.Fprintf(w, "  iat:    %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  exp:    %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
