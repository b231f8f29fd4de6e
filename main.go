package main

import (
	"os"

	"github.com/tphakala/kapt/cmd"
	"github.com/tphakala/kapt/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logging.Init()

	root := cmd.RootCommand(version)
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		logging.HumanReadable().Error("kapt failed", "error", err)
		os.Exit(1)
	}
}
