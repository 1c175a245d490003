package config

import (
	"fmt"
	"os"
)

// ExitCode writes a formatted error message to stderr and exits with code.
// Worker processes use distinct codes so their parent can tell a protocol
// failure from a crash.
func ExitCode(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
