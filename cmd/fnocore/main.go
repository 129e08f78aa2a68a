package main

import (
	"os"

	"github.com/Aidin1998/pincex_fno/cmd/fnocore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
