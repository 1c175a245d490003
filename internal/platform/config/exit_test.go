package config_test

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/louisbranch/rollcall/internal/platform/config"
)

// TestExitCode_UsesGivenCode uses the subprocess pattern because os.Exit
// cannot be intercepted in-process.
func TestExitCode_UsesGivenCode(t *testing.T) {
	if os.Getenv("TEST_EXITCODE_SUBPROCESS") == "1" {
		config.ExitCode(3, "worker: %s", "bad request")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitCode_UsesGivenCode$")
	cmd.Env = append(os.Environ(), "TEST_EXITCODE_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), "worker: bad request") {
		t.Fatalf("expected stderr to contain %q, got %q", "worker: bad request", string(out))
	}
}
