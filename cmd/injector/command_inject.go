//go:build windows

package main

import (
	"errors"
	"fmt"

	"github.com/VBChunguk/thcrap/internal/injector"
	"github.com/VBChunguk/thcrap/internal/process"
	"github.com/spf13/cobra"
	"golang.org/x/sys/windows"
)

const injectAccess = windows.PROCESS_CREATE_THREAD |
	windows.PROCESS_QUERY_INFORMATION |
	windows.PROCESS_VM_OPERATION |
	windows.PROCESS_VM_READ |
	windows.PROCESS_VM_WRITE

func newInjectCmd(cfg *config) *cobra.Command {
	var (
		pid   uint32
		name  string
		setup string
	)
	cmd := &cobra.Command{
		Use:   "inject (--pid N | --name EXE) [--setup S]",
		Short: "Load the runtime into a process that is already running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (pid == 0) == (name == "") {
				return errors.New("exactly one of --pid and --name is required")
			}
			if name != "" {
				entry, err := process.NewTable().FindOne(cmd.Context(), name)
				if err != nil {
					return err
				}
				pid = uint32(entry.PID)
			}

			h, err := windows.OpenProcess(injectAccess, false, pid)
			if err != nil {
				return fmt.Errorf("open process %d: %w", pid, err)
			}
			defer windows.CloseHandle(h)

			d, err := injector.NewDriver(cfg.opts, injector.GetLogger())
			if err != nil {
				return err
			}
			err = d.Inject(cmd.Context(), h, setup)
			code := injector.CodeOf(err)
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", int(code), code)
			return err
		},
	}
	cmd.Flags().Uint32Var(&pid, "pid", 0, "ID of the target process")
	cmd.Flags().StringVar(&name, "name", "", "executable name of the target process")
	cmd.Flags().StringVar(&setup, "setup", "", "argument passed to the runtime's setup routine")
	return cmd
}
