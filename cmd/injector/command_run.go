//go:build windows

package main

import (
	"fmt"

	"github.com/VBChunguk/thcrap/internal/injector"
	"github.com/spf13/cobra"
	"golang.org/x/sys/windows"
)

func newRunCmd(cfg *config) *cobra.Command {
	var (
		setup     string
		dir       string
		suspended bool
		kill      bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] -- <executable> [args...]",
		Short: "Start a process with the runtime injected at its entry point",
		Args:  requireCommandLine,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := injector.GetLogger()
			d, err := injector.NewDriver(cfg.opts, log)
			if err != nil {
				return err
			}
			l := injector.NewLauncher(d, setup, log)

			tp, err := l.Launch(cmd.Context(), injector.LaunchRequest{
				CommandLine: windows.ComposeCommandLine(args),
				Dir:         dir,
				Suspended:   suspended,
			})
			if tp == nil {
				return err
			}
			defer tp.Close()

			if err != nil {
				if kill {
					if termErr := tp.Terminate(1); termErr != nil {
						log.Warn("Failed to terminate target", "process_id", tp.ProcessID, "error", termErr)
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%d suspended\n", tp.ProcessID)
				}
				return fmt.Errorf("%s (%d): %w", injector.CodeOf(err), injector.CodeOf(err), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", tp.ProcessID, tp.State())
			return nil
		},
	}
	cmd.Flags().StringVar(&setup, "setup", "", "argument passed to the runtime's setup routine")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory of the new process")
	cmd.Flags().BoolVar(&suspended, "suspended", false, "leave the process suspended after injection")
	cmd.Flags().BoolVar(&kill, "kill-on-failure", false, "terminate the process when injection fails instead of leaving it suspended")
	return cmd
}
