//go:build windows

package injector

import (
	"golang.org/x/sys/windows"
)

// EntryFromContext returns the address of the first instruction the
// process image will execute. It must be called before the primary thread
// has run at all: at that moment the loader leaves the relocated entry
// point in the thread's entry register (EAX on x86, RCX on x64), so no
// knowledge of the executable format is needed.
//
// This holds on Windows but not under Wine, which does not set up the
// initial context the same way.
func EntryFromContext(thread windows.Handle) (uintptr, error) {
	ctx := newThreadContext()
	if err := getThreadContext(thread, ctx); err != nil {
		return 0, opError("GetThreadContext", ErrContextRead, err)
	}
	return ctx.entryRegister(), nil
}

// instructionPointer reads where the thread is currently executing.
func instructionPointer(thread windows.Handle) (uintptr, error) {
	ctx := newThreadContext()
	if err := getThreadContext(thread, ctx); err != nil {
		return 0, opError("GetThreadContext", ErrContextRead, err)
	}
	return ctx.instructionPointer(), nil
}
