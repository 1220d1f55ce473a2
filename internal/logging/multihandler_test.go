package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSink(buf *bytes.Buffer, lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: lvl})
}

// failingSink rejects every record, like an unreachable remote sink.
type failingSink struct{ err error }

func (f failingSink) Enabled(context.Context, slog.Level) bool  { return true }
func (f failingSink) Handle(context.Context, slog.Record) error { return f.err }
func (f failingSink) WithAttrs([]slog.Attr) slog.Handler        { return f }
func (f failingSink) WithGroup(string) slog.Handler             { return f }

func TestMultiHandler_RoutesByLevel(t *testing.T) {
	var file, debug bytes.Buffer
	multi := NewMultiHandler(nil, textSink(&file, slog.LevelInfo), textSink(&debug, slog.LevelDebug), nil)
	require.Len(t, multi.handlers, 2, "nil sinks are dropped")

	log := slog.New(multi)
	log.Debug("trail jitter")
	log.Info("tick applied")

	assert.NotContains(t, file.String(), "trail jitter")
	assert.Contains(t, file.String(), "tick applied")
	assert.Contains(t, debug.String(), "trail jitter")
	assert.Contains(t, debug.String(), "tick applied")
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	info := textSink(&bytes.Buffer{}, slog.LevelInfo)

	assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))
	assert.False(t, NewMultiHandler(info).Enabled(ctx, slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, textSink(&bytes.Buffer{}, slog.LevelDebug)).Enabled(ctx, slog.LevelDebug))
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiHandler(textSink(&a, slog.LevelInfo), textSink(&b, slog.LevelInfo))

	assert.Same(t, multi, multi.WithGroup(""))

	log := slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "sim")}).WithGroup("entity"))
	log.Info("moved", "id", 2)

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "component=sim")
		assert.Contains(t, out, "entity.id=2")
	}
}

func TestMultiHandler_JoinsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	down := errors.New("graylog unreachable")
	full := errors.New("disk full")
	multi := NewMultiHandler(failingSink{down}, textSink(&buf, slog.LevelInfo), failingSink{full})

	var rec slog.Record
	rec.Level = slog.LevelInfo
	rec.Message = "tick applied"
	err := multi.Handle(context.Background(), rec)

	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, err, full)
	assert.Contains(t, buf.String(), "tick applied", "healthy sinks still receive the record")
}
