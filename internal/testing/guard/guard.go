// Package guard switches the binaries into test mode when imported by a test,
// so calling main never dials PostgreSQL or Redis.
package guard

import "os"

// Mirrors app.TestModeEnv.
const testModeEnv = "BACKOFFICE_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}
