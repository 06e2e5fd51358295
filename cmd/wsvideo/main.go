// Package main is the entry point for the wsvideo application.
package main

import (
	"os"

	"github.com/jmylchreest/wsvideo/cmd/wsvideo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
