package main

import (
	"os"

	"github.com/fixmart-dev/fixmart/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
