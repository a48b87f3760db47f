package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"bus-tracker/internal/general/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6432,
		User:     "bus",
		Password: "p@ss word",
		Name:     "bus_tracker",
	})

	for _, want := range []string{"postgres://", "db.internal:6432", "/bus_tracker", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Errorf("password not escaped in %q", dsn)
	}
}

func TestMustTxFromContext_NoTx(t *testing.T) {
	if _, err := MustTxFromContext(context.Background()); err == nil {
		t.Fatal("expected error without transaction")
	}
}

func TestSetStatementTimeout(t *testing.T) {
	tests := []struct {
		left time.Duration
		want string
	}{
		{5 * time.Second, "SET LOCAL statement_timeout = 5000"},
		{1500 * time.Millisecond, "SET LOCAL statement_timeout = 1500"},
		{10 * time.Millisecond, "SET LOCAL statement_timeout = 50"},
		{-time.Second, "SET LOCAL statement_timeout = 50"},
	}
	for _, tt := range tests {
		if got := setStatementTimeout(tt.left); got != tt.want {
			t.Errorf("setStatementTimeout(%v) = %q, want %q", tt.left, got, tt.want)
		}
	}
}

func TestRepositoriesRequireTx(t *testing.T) {
	ctx := context.Background()

	if err := NewSessionRepo().MarkEnded(ctx, "id", time.Time{}); err == nil {
		t.Error("MarkEnded outside tx should fail")
	}
	if _, err := NewSessionRepo().GetActive(ctx); err == nil {
		t.Error("GetActive outside tx should fail")
	}
	if _, err := NewLocationHistoryRepo().ListBySession(ctx, "id", 10); err == nil {
		t.Error("ListBySession outside tx should fail")
	}
}
