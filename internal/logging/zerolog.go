package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// NewZerolog builds the zerolog logger shared by the command and storage
// layers. Unknown or empty levels fall back to info.
func NewZerolog(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// KV exposes a zerolog.Logger through the key/value Debug/Info/Error methods
// the command dispatcher logs with.
type KV struct {
	logger zerolog.Logger
}

// NewKV returns a KV logger whose records carry component=name.
func NewKV(logger zerolog.Logger, component string) *KV {
	if component != "" {
		logger = logger.With().Str("component", component).Logger()
	}
	return &KV{logger: logger}
}

func (l *KV) Debug(msg string, keysAndValues ...any) {
	emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *KV) Info(msg string, keysAndValues ...any) {
	emit(l.logger.Info(), msg, keysAndValues)
}

func (l *KV) Error(msg string, keysAndValues ...any) {
	emit(l.logger.Error(), msg, keysAndValues)
}

// emit adds the pairs to e and sends it. Non-string keys and a dangling
// last key are dropped; error values are written with Err.
func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
