package signalr

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured
// logging. See github.com/go-kit/log.
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// log event/field keys, kept short and consistent with the key convention
// visible in the teacher's httpmux.go ("evt", "msg").
const (
	evt = "evt"
	msg = "msg"
)

// buildInfoDebugLogger splits a base logger into an info logger (always
// on) and a debug logger (gated by debug, annotated with the call site).
func buildInfoDebugLogger(logger log.Logger, debug bool) (info StructuredLogger, dbg StructuredLogger) {
	var filtered log.Logger
	if debug {
		filtered = level.NewFilter(logger, level.AllowDebug())
	} else {
		filtered = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Info(filtered), log.With(level.Debug(filtered), "caller", log.DefaultCaller)
}

// prefixLoggers narrows a logger pair to one component instance, the way
// client.prefixLoggers narrows per-hub in the teacher.
func prefixLoggers(info, dbg StructuredLogger, class, instanceID string) (StructuredLogger, StructuredLogger) {
	infoLogger, _ := info.(log.Logger)
	dbgLogger, _ := dbg.(log.Logger)
	if infoLogger == nil || dbgLogger == nil {
		return info, dbg
	}
	return log.WithPrefix(infoLogger, "ts", log.DefaultTimestampUTC, "class", class, "connection", instanceID),
		log.WithPrefix(dbgLogger, "ts", log.DefaultTimestampUTC, "class", class, "connection", instanceID)
}
