// Package main is the entry point for the answerd service.
package main

import (
	"os"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/answerd/cmd/answerd/app"
)

func main() {
	if err := app.NewAnswerdCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
