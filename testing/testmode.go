// Package testing switches the process into test mode when blank-imported from a _test.go file.
// Commands check app.InTestMode and skip dialing Postgres and Redis.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// Defaults applied only when the variable is unset, so CI can still point tests at real services.
var testEnv = map[string]string{
	"LOCK_BACKEND": "memory",
	"LOG_FORMAT":   "json",
	"LOG_LEVEL":    "error",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("BACKOFFICE_TEST_MODE", "1")
		for key, value := range testEnv {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be assigned from a package that needs the environment before flag parsing.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
