package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the CLI with panic recovery so a crash in the engine still
// produces a diagnosable stack instead of a silent exit.
func run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return rootCmd.Execute()
}
