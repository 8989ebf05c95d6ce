package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "CABLEGRID_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	v := os.Getenv(testModeEnv)
	testModeFlag.Store(v == "1" || strings.EqualFold(v, "true"))
}

// InTestMode reports whether the process should stay inert. Both the
// cablegrid server and the worker consult it before opening Postgres and
// Redis connections, so test binaries that link the main packages never
// touch live infrastructure.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the flag after the environment changed under the
// running process, as tests that flip it mid-run do.
func RefreshTestMode() {
	detectTestMode()
}
