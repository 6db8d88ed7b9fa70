// Package bootstrap handles first-run credential handoff. The auth redirect
// drops a one-time token into the environment; it is captured exactly once at
// startup, scrubbed from the environment, and handed to whoever consumes it
// first.
package bootstrap

import (
	"os"
	"sync"
)

const redirectTokenEnv = "POLLEN_REDIRECT_TOKEN"

var (
	mu       sync.Mutex
	token    string
	captured bool
	consumed bool
)

// Capture reads the redirect token from the environment and unsets it so the
// value cannot leak into child processes. Only the first call captures;
// repeats are no-ops.
func Capture() {
	mu.Lock()
	defer mu.Unlock()
	if captured {
		return
	}
	captured = true
	token = os.Getenv(redirectTokenEnv)
	os.Unsetenv(redirectTokenEnv)
}

// CaptureValue injects a token directly, for flows that receive it out of
// band. It follows the same write-once rule as Capture.
func CaptureValue(v string) {
	mu.Lock()
	defer mu.Unlock()
	if captured {
		return
	}
	captured = true
	token = v
}

// Consume hands out the captured token exactly once. Later calls, and calls
// when nothing was captured, report false.
func Consume() (string, bool) {
	mu.Lock()
	defer mu.Unlock()
	if consumed || token == "" {
		return "", false
	}
	consumed = true
	v := token
	token = ""
	return v, true
}

// reset clears all state, for tests.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	token = ""
	captured = false
	consumed = false
}
