package injector

import (
	"errors"
	"fmt"
)

var (
	// ErrContextRead is returned when a thread's saved execution context
	// cannot be retrieved.
	ErrContextRead = errors.New("thread context could not be read")
	// ErrWaitTimeout is returned when a bounded wait runs out of time.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrProcessGone means the target exited before reaching the awaited
	// address. Callers treat this as "target never arrived", not as a bug.
	ErrProcessGone = errors.New("target process is gone")
	// ErrHookInstall is returned when a detour cannot be located or patched.
	ErrHookInstall = errors.New("hook installation failed")
	// ErrRemoteAlloc is returned when memory cannot be allocated in the target.
	ErrRemoteAlloc = errors.New("remote allocation failed")
	// ErrRemoteWrite is returned when memory in the target cannot be written.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrLoaderThreadFailed means the runtime module did not load in the target.
	ErrLoaderThreadFailed = errors.New("loader thread failed")
	// ErrSetupThreadFailed means the module loaded but its setup routine
	// failed or could not be resolved.
	ErrSetupThreadFailed = errors.New("setup thread failed")
	// ErrProcessHandleInvalid is returned for unusable process or thread handles.
	ErrProcessHandleInvalid = errors.New("process handle invalid")
	// ErrArchMismatch means injector and target differ in pointer size.
	ErrArchMismatch = fmt.Errorf("%w: architecture mismatch between injector and target", ErrLoaderThreadFailed)
	// ErrInvalidTransition is returned for an illegal lifecycle step.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// OpError records the step that failed and the underlying cause.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opError joins a sentinel kind with the OS error that caused it so that
// errors.Is matches both.
func opError(op string, kind, cause error) error {
	if cause == nil {
		return &OpError{Op: op, Err: kind}
	}
	return &OpError{Op: op, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// Code is the small integer result reported across the injection boundary.
type Code int

const (
	CodeOK Code = 0
	// Negative values mirror the error taxonomy one to one.
	CodeUnknown              Code = -1
	CodeContextRead          Code = -2
	CodeWaitTimeout          Code = -3
	CodeProcessGone          Code = -4
	CodeHookInstall          Code = -5
	CodeRemoteAlloc          Code = -6
	CodeRemoteWrite          Code = -7
	CodeLoaderThreadFailed   Code = -8
	CodeSetupThreadFailed    Code = -9
	CodeProcessHandleInvalid Code = -10
	CodeArchMismatch         Code = -11
)

// codeTable is ordered: more specific sentinels come first.
var codeTable = []struct {
	err  error
	code Code
}{
	{ErrArchMismatch, CodeArchMismatch},
	{ErrContextRead, CodeContextRead},
	{ErrWaitTimeout, CodeWaitTimeout},
	{ErrProcessGone, CodeProcessGone},
	{ErrHookInstall, CodeHookInstall},
	{ErrRemoteAlloc, CodeRemoteAlloc},
	{ErrRemoteWrite, CodeRemoteWrite},
	{ErrLoaderThreadFailed, CodeLoaderThreadFailed},
	{ErrSetupThreadFailed, CodeSetupThreadFailed},
	{ErrProcessHandleInvalid, CodeProcessHandleInvalid},
}

// CodeOf maps an error returned by this package to its result code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeContextRead:
		return "context read error"
	case CodeWaitTimeout:
		return "wait timeout"
	case CodeProcessGone:
		return "process gone"
	case CodeHookInstall:
		return "hook install error"
	case CodeRemoteAlloc:
		return "remote alloc error"
	case CodeRemoteWrite:
		return "remote write error"
	case CodeLoaderThreadFailed:
		return "loader thread failed"
	case CodeSetupThreadFailed:
		return "setup thread failed"
	case CodeProcessHandleInvalid:
		return "process handle invalid"
	case CodeArchMismatch:
		return "architecture mismatch"
	default:
		return fmt.Sprintf("unknown result code %d", int(c))
	}
}
