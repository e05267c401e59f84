//go:build !windows

package main

import "github.com/spf13/cobra"

// Injection needs the Windows process API; elsewhere only help is offered.
func platformCommands(*config) []*cobra.Command {
	return nil
}
