package main

import (
	"os"

	"github.com/macleangm-debug/FieldForce/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
