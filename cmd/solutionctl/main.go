package main

import (
	"os"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/cmd/solutionctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
