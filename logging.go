package bowlvolume

import "go.viam.com/rdk/logging"

// Logger is the diagnostic logging sink threaded through the pipeline.
// It is exactly go.viam.com/rdk/logging.Logger — the same interface the
// teacher threads through Robot and Detector-adjacent code — so callers
// already using Viam's logging stack can pass their existing logger
// straight through. A nil Logger disables logging; every call site in
// this package checks for nil before logging.
type Logger = logging.Logger

// logDebugf logs at Debug level if l is non-nil, and is a no-op otherwise.
func logDebugf(l Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Debugf(format, args...)
}

// logWarnf logs at Warn level if l is non-nil, and is a no-op otherwise.
func logWarnf(l Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Warnf(format, args...)
}
