package main

import (
	"fmt"
	"os"

	"github.com/schuerik/uberdot/pkg/errors"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(errors.ExitCode(err))
	}
}
