package main

import (
	"os"

	"github.com/soyeahso/closer/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Development convenience: re-exec when the binary is rebuilt.
	if os.Getenv("CLOSER_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
