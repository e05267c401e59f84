//go:build windows

package injector

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Launcher creates processes with the runtime injected before their first
// instruction runs.
type Launcher struct {
	driver *Driver
	setup  string
	logger Logger
}

// NewLauncher returns a launcher that injects with driver and passes setup
// to the runtime's setup routine.
func NewLauncher(driver *Driver, setup string, logger Logger) *Launcher {
	if logger == nil {
		logger = globalLogger
	}
	return &Launcher{driver: driver, setup: setup, logger: logger}
}

// LaunchRequest describes a process to start.
type LaunchRequest struct {
	// ApplicationName is optional; the command line is parsed when empty.
	ApplicationName string
	CommandLine     string
	Dir             string
	// Suspended leaves the primary thread suspended after injection. The
	// caller must resume it.
	Suspended bool
}

// Launch starts req, injects and applies the resume policy. When the
// process was created but injection failed, the target is returned
// suspended together with the error. The caller owns the returned handles.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*TargetProcess, error) {
	var flags uint32
	if req.Suspended {
		flags |= windows.CREATE_SUSPENDED
	}
	si := windows.StartupInfo{Cb: uint32(unsafe.Sizeof(windows.StartupInfo{}))}
	var pi windows.ProcessInformation
	return l.createU(ctx, req.ApplicationName, req.CommandLine, nil, nil, false, flags, nil, req.Dir, &si, &pi)
}

// CreateProcessU mirrors CreateProcessA with UTF-8 strings. Empty strings
// are passed as NULL.
func (l *Launcher) CreateProcessU(ctx context.Context, appName, cmdLine string, procAttr, threadAttr *windows.SecurityAttributes,
	inheritHandles bool, flags uint32, env *uint16, currentDir string, si *windows.StartupInfo, pi *windows.ProcessInformation) error {
	_, err := l.createU(ctx, appName, cmdLine, procAttr, threadAttr, inheritHandles, flags, env, currentDir, si, pi)
	return err
}

func (l *Launcher) createU(ctx context.Context, appName, cmdLine string, procAttr, threadAttr *windows.SecurityAttributes,
	inheritHandles bool, flags uint32, env *uint16, currentDir string, si *windows.StartupInfo, pi *windows.ProcessInformation) (*TargetProcess, error) {
	app, err := utf16PtrOrNil(appName)
	if err != nil {
		return nil, fmt.Errorf("application name: %w", err)
	}
	var cmd *uint16
	if cmdLine != "" {
		// CreateProcessW may modify the command line in place.
		buf, err := windows.UTF16FromString(cmdLine)
		if err != nil {
			return nil, fmt.Errorf("command line: %w", err)
		}
		cmd = &buf[0]
	}
	dir, err := utf16PtrOrNil(currentDir)
	if err != nil {
		return nil, fmt.Errorf("current directory: %w", err)
	}
	return l.createW(ctx, app, cmd, procAttr, threadAttr, inheritHandles, flags, env, dir, si, pi)
}

// CreateProcessW mirrors the native wide-character call. pi is filled in
// whenever the process was created, including when injection fails.
func (l *Launcher) CreateProcessW(ctx context.Context, appName, cmdLine *uint16, procAttr, threadAttr *windows.SecurityAttributes,
	inheritHandles bool, flags uint32, env *uint16, currentDir *uint16, si *windows.StartupInfo, pi *windows.ProcessInformation) error {
	_, err := l.createW(ctx, appName, cmdLine, procAttr, threadAttr, inheritHandles, flags, env, currentDir, si, pi)
	return err
}

func (l *Launcher) createW(ctx context.Context, appName, cmdLine *uint16, procAttr, threadAttr *windows.SecurityAttributes,
	inheritHandles bool, flags uint32, env *uint16, currentDir *uint16, si *windows.StartupInfo, pi *windows.ProcessInformation) (*TargetProcess, error) {
	if err := windows.CreateProcess(appName, cmdLine, procAttr, threadAttr, inheritHandles,
		forceSuspended(flags), env, currentDir, si, pi); err != nil {
		return nil, &OpError{Op: "CreateProcess", Err: err}
	}
	return l.finish(ctx, pi, flags)
}

// finish runs the post-creation steps on a process that was created
// suspended on the caller's behalf: wait for its entry point, inject, and
// resume unless callerFlags asked for a suspended start.
func (l *Launcher) finish(ctx context.Context, pi *windows.ProcessInformation, callerFlags uint32) (*TargetProcess, error) {
	tp := targetFromInformation(pi, callerFlags)
	log := l.logger
	log.Info("Process created", "process_id", tp.ProcessID, "thread_id", tp.ThreadID)

	if err := tp.Advance(StateSuspended); err != nil {
		return tp, err
	}

	opts := l.driver.Options()
	if err := WaitUntilEntryPoint(ctx, tp, opts.EntryModule, opts, log); err != nil {
		log.Error("Entry wait failed, leaving process suspended", "process_id", tp.ProcessID, "error", err)
		return tp, err
	}

	if err := l.driver.Inject(ctx, tp.Process, l.setup); err != nil {
		tp.Fail()
		log.Error("Injection failed, leaving process suspended", "process_id", tp.ProcessID, "error", err)
		return tp, err
	}
	if err := tp.Advance(StateInjected); err != nil {
		return tp, err
	}

	if callerOwnsResume(callerFlags) {
		log.Debug("Caller requested suspended start, not resuming", "process_id", tp.ProcessID)
		return tp, nil
	}
	if _, err := windows.ResumeThread(tp.Thread); err != nil {
		tp.Fail()
		return tp, opError("ResumeThread", ErrProcessHandleInvalid, err)
	}
	log.Info("Process resumed", "process_id", tp.ProcessID)
	return tp, tp.Advance(StateResumed)
}

func targetFromInformation(pi *windows.ProcessInformation, flags uint32) *TargetProcess {
	return &TargetProcess{
		Process:   pi.Process,
		Thread:    pi.Thread,
		ProcessID: pi.ProcessId,
		ThreadID:  pi.ThreadId,
		Flags:     flags,
	}
}

func utf16PtrOrNil(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	return windows.UTF16PtrFromString(s)
}
