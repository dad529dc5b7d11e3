package main

import (
	"os"

	"github.com/bnema/kaidan/cmd"
)

func main() {
	err := cmd.Execute()
	os.Exit(cmd.ExitCode(err))
}
