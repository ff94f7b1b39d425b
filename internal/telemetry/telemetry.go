// Package telemetry wraps Sentry crash reporting for pokeagent. It is a
// package-level, best-effort facility: when disabled or uninitialised every
// function becomes a safe no-op so callers never need to guard on an
// enabled flag.
package telemetry

import (
	"runtime"
	"time"

	gosentry "github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var (
	enabled bool
	log     *zap.Logger
)

// Init initialises the Sentry SDK. When dsn is empty it no-ops silently.
func Init(dsn, runID, version string, logger *zap.Logger) error {
	log = logger
	if dsn == "" {
		enabled = false
		return nil
	}

	if err := gosentry.Init(gosentry.ClientOptions{
		Dsn:              dsn,
		Release:          "pokeagent@" + version,
		AttachStacktrace: true,
		SampleRate:       1.0,
	}); err != nil {
		return err
	}

	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
		scope.SetTag("version", version)
		scope.SetTag("run_id", runID)
	})

	enabled = true
	return nil
}

// IsEnabled reports whether Sentry reporting is active.
func IsEnabled() bool {
	return enabled
}

// Flush waits up to 2 seconds for buffered events to be sent.
func Flush() {
	if !enabled {
		return
	}
	gosentry.Flush(2 * time.Second)
}

// CaptureTickPanic reports a recovered tick panic to Sentry without
// re-panicking — the scheduler's recovery ladder keeps running after a
// panicked tick, so reporting must not interrupt that flow.
func CaptureTickPanic(tick uint64, modeKey string, recovered interface{}) {
	if !enabled {
		return
	}
	gosentry.WithScope(func(scope *gosentry.Scope) {
		scope.SetTag("mode", modeKey)
		scope.SetContext("tick", map[string]interface{}{
			"tick_id": tick,
			"mode":    modeKey,
		})
		gosentry.CurrentHub().Recover(recovered)
	})
}

// CaptureError reports a non-fatal error for later investigation.
func CaptureError(err error) {
	if !enabled || err == nil {
		return
	}
	gosentry.CaptureException(err)
}
