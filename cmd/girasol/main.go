package main

import (
	"os"

	"github.com/majorcontext/girasol/cmd/girasol/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
