package jwt

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	raw, claims, err := mgr.IssueSessionToken("sess-1", "driver1", RoleDriver)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if claims.SessionID() != "sess-1" {
		t.Fatalf("subject = %q", claims.SessionID())
	}

	_, parsed, err := mgr.ParseAndValidate(raw)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if parsed.Role != RoleDriver || parsed.Driver != "driver1" || parsed.SessionID() != "sess-1" {
		t.Fatalf("parsed claims = %+v", parsed)
	}
}

func TestParse_WrongSecretAndExpired(t *testing.T) {
	raw, _, _ := NewManager("a", time.Hour).IssueSessionToken("s", "d", RoleDriver)
	if _, _, err := NewManager("b", time.Hour).ParseAndValidate(raw); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	expired, _, _ := NewManager("a", -time.Minute).IssueSessionToken("s", "d", RoleDriver)
	if _, _, err := NewManager("a", time.Hour).ParseAndValidate(expired); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestIssue_Invalid(t *testing.T) {
	mgr := NewManager("k", time.Hour)
	if _, _, err := mgr.IssueSessionToken("s", "d", Role("ADMIN")); err == nil {
		t.Error("unknown role accepted")
	}
	if _, _, err := mgr.IssueSessionToken("", "d", RoleDriver); err == nil {
		t.Error("driver token without session accepted")
	}
	if _, _, err := mgr.IssueSessionToken("", "ops", RoleOperator); err != nil {
		t.Errorf("operator token: %v", err)
	}
}

func TestCanControl(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   bool
	}{
		{"nil", nil, false},
		{"own session", NewSessionClaims("s1", "d", RoleDriver, time.Hour), true},
		{"other session", NewSessionClaims("s2", "d", RoleDriver, time.Hour), false},
		{"operator", NewSessionClaims("", "ops", RoleOperator, time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.CanControl("s1"); got != tt.want {
				t.Fatalf("CanControl = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	mgr := NewManager("k", time.Hour)
	driverTok, _, _ := mgr.IssueSessionToken("s1", "d", RoleDriver)

	var seen *Claims
	h := AuthMiddlewareFunc(mgr, RoleDriver)(func(w http.ResponseWriter, r *http.Request) {
		seen = RequireClaims(r)
		if err := RequireSession(r, "s1"); err != nil {
			t.Errorf("RequireSession: %v", err)
		}
		if err := RequireSession(r, "s2"); !errors.Is(err, ErrSessionMismatch) {
			t.Errorf("RequireSession other = %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + driverTok, "", http.StatusNoContent},
		{"query", "", driverTok, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/x"
			if tt.query != "" {
				target += "?Authorization=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen == nil || seen.SessionID() != "s1" {
		t.Fatalf("claims not injected: %+v", seen)
	}

	opTok, _, _ := mgr.IssueSessionToken("", "ops", RoleOperator)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+opTok)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("operator on driver-only route = %d, want 403", rec.Code)
	}
}

func TestValidateDriverFrame(t *testing.T) {
	mgr := NewManager("k", time.Hour)
	tok, _, _ := mgr.IssueSessionToken("s1", "d", RoleDriver)

	res, err := ValidateDriverFrame([]byte(`{"type":"auth","token":"Bearer `+tok+`"}`), mgr)
	if err != nil {
		t.Fatalf("ValidateDriverFrame: %v", err)
	}
	if res.SessionID != "s1" || res.Driver != "d" {
		t.Fatalf("auth = %+v", res)
	}

	if _, err := ValidateDriverFrame([]byte(`{"type":"hello"}`), mgr); !errors.Is(err, ErrBadAuthMsg) {
		t.Errorf("wrong type err = %v", err)
	}
	if _, err := ValidateDriverFrame([]byte(`{"type":"auth","token":"`+tok+`"}`), mgr); !errors.Is(err, ErrBadTokenWrap) {
		t.Errorf("unwrapped token err = %v", err)
	}
	if _, err := ValidateDriverFrame([]byte(`not json`), mgr); !errors.Is(err, ErrBadAuthMsg) {
		t.Errorf("bad json err = %v", err)
	}

	op, _, _ := mgr.IssueSessionToken("", "ops", RoleOperator)
	if _, err := ValidateDriverFrame([]byte(`{"type":"auth","token":"Bearer `+op+`"}`), mgr); !errors.Is(err, ErrRoleForbidden) {
		t.Errorf("operator feed err = %v, want role forbidden", err)
	}
}

func TestParse_RejectsForeignAndUnboundTokens(t *testing.T) {
	mgr := NewManager("k", time.Hour)
	sign := func(c *Claims) string {
		t.Helper()
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return raw
	}

	foreign := NewSessionClaims("s1", "d", RoleDriver, time.Hour)
	foreign.Issuer = "ride-hail"
	if _, _, err := mgr.ParseAndValidate(sign(foreign)); err == nil {
		t.Error("token from another issuer accepted")
	}

	unbound := NewSessionClaims("", "d", RoleDriver, time.Hour)
	if _, _, err := mgr.ParseAndValidate(sign(unbound)); !errors.Is(err, ErrNoSession) {
		t.Errorf("driver token without session err = %v, want ErrNoSession", err)
	}

	forever := NewSessionClaims("s1", "d", RoleDriver, time.Hour)
	forever.ExpiresAt = nil
	if _, _, err := mgr.ParseAndValidate(sign(forever)); err == nil {
		t.Error("token without expiry accepted")
	}

	a, _, _ := NewManager("k", time.Hour).IssueSessionToken("s1", "d", RoleDriver)
	_, ca, _ := mgr.ParseAndValidate(a)
	b, _, _ := mgr.IssueSessionToken("s1", "d", RoleDriver)
	_, cb, _ := mgr.ParseAndValidate(b)
	if ca == nil || cb == nil || ca.ID == "" || ca.ID == cb.ID {
		t.Error("tokens do not carry distinct ids")
	}
}
