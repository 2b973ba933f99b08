package kafka

import (
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// kgoLogger adapts a *zap.Logger to kgo.Logger so the client's internal
// connection/broker chatter lands in the same structured log stream as the
// rest of this module.
type kgoLogger struct {
	log *zap.Logger
}

func newKgoLogger(log *zap.Logger) *kgoLogger { return &kgoLogger{log: log} }

func (l *kgoLogger) Level() kgo.LogLevel {
	switch {
	case l.log.Core().Enabled(zap.DebugLevel):
		return kgo.LogLevelDebug
	default:
		return kgo.LogLevelInfo
	}
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	switch level {
	case kgo.LogLevelError:
		l.log.Error(msg, fields...)
	case kgo.LogLevelWarn:
		l.log.Warn(msg, fields...)
	case kgo.LogLevelDebug:
		l.log.Debug(msg, fields...)
	default:
		l.log.Info(msg, fields...)
	}
}
