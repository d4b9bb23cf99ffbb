package main

import (
	"os"

	"github.com/chatvault/chatvault/cmd/chatvault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.OutputError("%v", err)
		os.Exit(1)
	}
}
