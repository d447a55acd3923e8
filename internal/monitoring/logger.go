package monitoring

import (
	"log"
	"sync/atomic"
	"time"
)

// Logf is the package-level diagnostic logger used by the library packages
// (pcio, voxel, normals, viewer, runlog). It defaults to log.Printf but may be
// replaced by SetLogger. Tests or commands can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only when verbose output is enabled.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// Timed logs "<what> took <elapsed>" at debug level when the returned func
// is called. Intended for defer at the top of a pipeline stage.
func Timed(what string) func() {
	start := time.Now()
	return func() {
		Debugf("%s took %v", what, time.Since(start).Round(time.Microsecond))
	}
}
