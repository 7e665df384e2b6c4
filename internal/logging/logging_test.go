package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelWarn, Output: &buf})
	ctx := context.Background()

	l.Debug(ctx, "debug message")
	l.Info(ctx, "info message")
	l.Warn(ctx, "warn message")
	l.Error(ctx, "error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelDebug, Output: &buf})

	l.WithOperation("readFile").WithPeer("guest-1").WithPath("/share/a.txt").Debug(context.Background(), "request")

	out := buf.String()
	assert.Contains(t, out, "operation=readFile")
	assert.Contains(t, out, "peer=guest-1")
	assert.Contains(t, out, "path=/share/a.txt")
}

func TestNopLogger(t *testing.T) {
	ctx := context.Background()
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.With("k", "v").Info(ctx, "discarded")
		l.WithOperation("x").Error(ctx, "discarded")
	})

	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.Warn(ctx, "discarded")
		nilLogger.WithPeer("p").Debug(ctx, "discarded")
	})
}
