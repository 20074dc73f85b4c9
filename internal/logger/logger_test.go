package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", "test"} {
		l, err := NewLogger(env)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", env, err)
			continue
		}
		_ = l.Sync()
	}

	if _, err := NewLogger("staging"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zap.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	if _, err := NewLogger("prod", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger, got nil")
	}
}

func TestWithSession(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := WithSession(context.Background(), zap.New(core), "V1StGXR8_Z5jdHi6B-myT", "10.0.0.1:5555")

	FromContext(ctx).Info("Session opened")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["session_id"] != "V1StGXR8_Z5jdHi6B-myT" {
		t.Errorf("unexpected session_id %v", fields["session_id"])
	}
	if fields["remote_addr"] != "10.0.0.1:5555" {
		t.Errorf("unexpected remote_addr %v", fields["remote_addr"])
	}
}
