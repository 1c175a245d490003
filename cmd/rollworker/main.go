// Package main evaluates one roll request from stdin and exits. The bot
// starts it per roll in isolated mode and kills it when it overruns.
package main

import (
	"os"

	"github.com/louisbranch/rollcall/internal/cmd/rollworker"
	"github.com/louisbranch/rollcall/internal/platform/config"
)

// exitProtocol marks a request or response that could not be exchanged, as
// opposed to a crash.
const exitProtocol = 2

func main() {
	if err := rollworker.Run(os.Stdin, os.Stdout); err != nil {
		config.ExitCode(exitProtocol, "rollworker: %v", err)
	}
}
