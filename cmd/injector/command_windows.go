//go:build windows

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func platformCommands(cfg *config) []*cobra.Command {
	return []*cobra.Command{
		newRunCmd(cfg),
		newInjectCmd(cfg),
		newEntryCmd(cfg),
	}
}

func requireCommandLine(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return errors.New("command line is required; use -- to separate flags from the command")
	}
	return nil
}
