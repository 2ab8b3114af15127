// Package main provides the entry point for the agentcheck CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/hangw/agentcheck/internal/cli"
	awerr "github.com/hangw/agentcheck/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		var aweErr *awerr.AweError
		if errors.As(err, &aweErr) {
			fmt.Fprintln(os.Stderr, aweErr.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
