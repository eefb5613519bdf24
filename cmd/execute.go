// Package cmd is the entry point of the gcbridge binary.
package cmd

import (
	"context"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/internal/cmd"
)

// Execute runs the CLI against the real process state.
func Execute() {
	gs := state.NewGlobalState(context.Background())
	cmd.ExecuteWithGlobalState(gs)
}
