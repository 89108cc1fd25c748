package main

import (
	"os"

	"github.com/fluxbase-eu/fluxpack/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
