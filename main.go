package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"grimm.is/rse/cmd"
)

func main() {
	if err := cmd.Run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
