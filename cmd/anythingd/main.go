// Package main provides the entry point for the anythingd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/anythingd/cmd/anythingd/cmd"
	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, aerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
