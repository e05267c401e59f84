//go:build windows

package injector

import (
	"context"
	"errors"
	"fmt"

	"github.com/VBChunguk/thcrap/internal/memory"
	"golang.org/x/sys/windows"
)

// ThreadWaitUntil runs a suspended thread until its instruction pointer is
// exactly addr and leaves it suspended there.
//
// The instruction at addr is temporarily replaced by a jump onto itself, so
// the thread spins in place once it arrives; the original bytes and page
// protection are put back before returning, on every path. The wait is
// bounded by opts.WaitTimeout and by ctx.
func ThreadWaitUntil(ctx context.Context, process, thread windows.Handle, addr uintptr, opts Options, logger Logger) error {
	if logger == nil {
		logger = globalLogger
	}
	if alive, err := processAlive(process); err != nil {
		return opError("GetExitCodeProcess", ErrProcessHandleInvalid, err)
	} else if !alive {
		return ErrProcessGone
	}

	var oldProtect uint32
	if err := windows.VirtualProtectEx(process, addr, uintptr(len(selfJump)), windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return opError("VirtualProtectEx", ErrRemoteWrite, err)
	}
	var original [len(selfJump)]byte
	if err := readRemote(process, addr, original[:]); err != nil {
		windows.VirtualProtectEx(process, addr, uintptr(len(selfJump)), oldProtect, &oldProtect)
		return opError("read instruction", ErrProcessHandleInvalid, err)
	}
	loop := selfJump
	if err := writeRemote(process, addr, loop[:]); err != nil {
		windows.VirtualProtectEx(process, addr, uintptr(len(selfJump)), oldProtect, &oldProtect)
		return opError("write wait loop", ErrRemoteWrite, err)
	}
	FlushInstructionCache(process, addr, uintptr(len(selfJump)))

	defer func() {
		if err := writeRemote(process, addr, original[:]); err != nil {
			logger.Warn("Failed to restore instruction after wait", "address", hexAddr(addr), "error", err)
		}
		var ignored uint32
		windows.VirtualProtectEx(process, addr, uintptr(len(selfJump)), oldProtect, &ignored)
		FlushInstructionCache(process, addr, uintptr(len(selfJump)))
	}()

	if _, err := windows.ResumeThread(thread); err != nil {
		return opError("ResumeThread", ErrProcessHandleInvalid, err)
	}

	read := func() (uintptr, error) {
		if alive, err := processAlive(process); err != nil {
			return 0, opError("GetExitCodeProcess", ErrProcessHandleInvalid, err)
		} else if !alive {
			return 0, ErrProcessGone
		}
		return instructionPointer(thread)
	}
	waitErr := pollUntil(ctx, addr, opts.WaitTimeout, opts.PollInterval, read)

	// Park the thread again whatever happened, so it never runs on with the
	// loop in place or escapes while the bytes are restored.
	if err := SuspendThread(thread); err != nil && !errors.Is(waitErr, ErrProcessGone) {
		logger.Warn("Failed to suspend thread after wait", "error", err)
		if waitErr == nil {
			return opError("SuspendThread", ErrProcessHandleInvalid, err)
		}
	}
	return waitErr
}

// WaitUntilEntryPoint drives a freshly created, suspended target to the
// entry point of its image and records it. With module set, the target
// address is instead the entry point of that already-mapped module, which
// must lie inside the module's image.
func WaitUntilEntryPoint(ctx context.Context, tp *TargetProcess, module string, opts Options, logger Logger) error {
	if logger == nil {
		logger = globalLogger
	}

	// The saved context of a foreign-architecture thread has another layout.
	if target64, err := is64Process(tp.Process); err != nil {
		tp.Fail()
		return opError("IsWow64Process", ErrProcessHandleInvalid, err)
	} else if target64 != (archBits == 64) {
		tp.Fail()
		return fmt.Errorf("%w (injector %d-bit, target 64-bit=%v)", ErrArchMismatch, archBits, target64)
	}

	var entry uintptr
	var err error
	if module == "" {
		entry, err = EntryFromContext(tp.Thread)
	} else {
		entry, err = moduleEntryPoint(tp.Process, module)
	}
	if err != nil {
		tp.Fail()
		return err
	}
	tp.Entry = entry
	logger.Debug("Resolved entry point", "process_id", tp.ProcessID, "entry", hexAddr(entry), "module", module)

	if err := ThreadWaitUntil(ctx, tp.Process, tp.Thread, entry, opts, logger); err != nil {
		tp.Fail()
		return err
	}
	return tp.Advance(StateEntryReached)
}

// moduleEntryPoint reads the entry point of a mapped module from its
// in-memory headers. The main image is located through the PEB, which is
// valid from creation on; any other module needs the loader's module list
// and so cannot be resolved before the loader has run.
func moduleEntryPoint(process windows.Handle, name string) (uintptr, error) {
	var mod remoteModule
	if path, err := imagePath(process); err == nil && sameModuleName(path, name) {
		base, err := imageBase(process)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrContextRead, err)
		}
		mod = remoteModule{Base: base, Path: path}
	} else {
		if mod, err = findRemoteModule(process, name); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrContextRead, err)
		}
	}

	img, err := memory.ReadProcessImage(process, mod.Base)
	if err != nil {
		return 0, fmt.Errorf("%w: headers of %s: %w", ErrContextRead, name, err)
	}
	if mod.Size == 0 {
		mod.Size = img.SizeOfImage
	}
	if img.EntryRVA == 0 || !img.ContainsRVA(uint64(img.EntryRVA)) {
		return 0, fmt.Errorf("%w: %s has no entry point inside its image", ErrContextRead, name)
	}
	entry := mod.Base + uintptr(img.EntryRVA)
	if !mod.contains(entry) {
		return 0, fmt.Errorf("%w: entry %s outside %s", ErrContextRead, hexAddr(entry), name)
	}
	return entry, nil
}
