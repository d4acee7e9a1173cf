package main

import (
	"os"

	"github.com/rustyeddy/krwbot/cmd/krwbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
