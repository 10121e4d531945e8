package recovery

import (
	"runtime/debug"

	"github.com/jterm-dev/jterm/internal/logger"
)

// SafeGo runs a function in a goroutine with automatic panic recovery.
// A panic in one session's read loop or flush timer must never take down
// the whole server.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v", name, r)
				logger.Errorf("stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup runs a function in a goroutine with panic recovery and a
// cleanup that runs whether or not the function panicked.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v", name, r)
				logger.Errorf("stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}
