//go:build windows

package main

import (
	"fmt"
	"unsafe"

	"github.com/VBChunguk/thcrap/internal/injector"
	"github.com/spf13/cobra"
	"golang.org/x/sys/windows"
)

func newEntryCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "entry -- <executable> [args...]",
		Short: "Run a process up to its entry point, print it and terminate the process",
		Args:  requireCommandLine,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(args))
			if err != nil {
				return err
			}
			si := windows.StartupInfo{Cb: uint32(unsafe.Sizeof(windows.StartupInfo{}))}
			var pi windows.ProcessInformation
			if err := windows.CreateProcess(nil, cmdLine, nil, nil, false, windows.CREATE_SUSPENDED, nil, nil, &si, &pi); err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}

			tp := injector.NewTargetProcess(pi.Process, pi.Thread)
			tp.ThreadID = pi.ThreadId
			defer tp.Close()
			defer tp.Terminate(0)

			if err := tp.Advance(injector.StateSuspended); err != nil {
				return err
			}
			if err := injector.WaitUntilEntryPoint(cmd.Context(), tp, cfg.opts.EntryModule, cfg.opts, injector.GetLogger()); err != nil {
				return err
			}

			code := make([]byte, 16)
			var read uintptr
			if err := windows.ReadProcessMemory(tp.Process, tp.Entry, &code[0], uintptr(len(code)), &read); err != nil {
				return fmt.Errorf("read entry point: %w", err)
			}
			bits := int(unsafe.Sizeof(uintptr(0)) * 8)
			inst, err := injector.DescribeInstruction(code[:read], bits, tp.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%X %s\n", uint64(tp.Entry), inst)
			return nil
		},
	}
}
