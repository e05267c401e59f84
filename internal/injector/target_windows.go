//go:build windows

package injector

import (
	"golang.org/x/sys/windows"
)

// TargetProcess is a process owned by the operating system that the engine
// borrows for one injection. Between creation and a successful entry wait
// its primary thread must stay suspended; nothing else may resume it.
type TargetProcess struct {
	Process   windows.Handle
	Thread    windows.Handle
	ProcessID uint32
	ThreadID  uint32
	// Entry is zero until the entry point has been resolved.
	Entry uintptr
	// Flags are the creation flags the original caller asked for, before
	// CREATE_SUSPENDED was forced.
	Flags uint32

	Lifecycle
}

// NewTargetProcess wraps handles that already exist. The engine never
// closes them.
func NewTargetProcess(process, thread windows.Handle) *TargetProcess {
	tp := &TargetProcess{Process: process, Thread: thread}
	tp.ProcessID, _ = windows.GetProcessId(process)
	return tp
}

// Close releases both handles. Only call it for targets the caller owns.
func (tp *TargetProcess) Close() error {
	var firstErr error
	for _, h := range []windows.Handle{tp.Thread, tp.Process} {
		if h == 0 {
			continue
		}
		if err := windows.CloseHandle(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	tp.Thread, tp.Process = 0, 0
	return firstErr
}

// Terminate kills a target whose injection failed. The engine itself never
// does this; it is offered to callers that decide not to run unpatched.
func (tp *TargetProcess) Terminate(exitCode uint32) error {
	tp.Fail()
	return windows.TerminateProcess(tp.Process, exitCode)
}
