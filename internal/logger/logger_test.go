package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestFromContext_AddsIdentifiers(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "debug")

	ctx := WithTraceID(context.Background(), "t-1")
	ctx = WithSessionID(ctx, "s-1")
	ctx = WithContainerID(ctx, "c-1")
	FromContext(ctx).Info("attached")

	out := buf.String()
	assert.Contains(t, out, "attached")
	assert.Contains(t, out, "trace_id=t-1")
	assert.Contains(t, out, "session_id=s-1")
	assert.Contains(t, out, "container_id=c-1")
	assert.Equal(t, "c-1", GetContainerID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}
