package main

import (
	"os"

	"github.com/synapse-hq/synapse-sourcer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
