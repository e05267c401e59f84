//go:build windows

package injector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"
)

// Driver loads the runtime module into target processes and calls its
// setup routine. It is the only component that allocates remote memory or
// starts remote threads for the payload.
type Driver struct {
	opts   Options
	logger Logger

	once    sync.Once
	module  RuntimeModule
	loadErr error
}

// NewDriver validates opts and returns a driver for them.
func NewDriver(opts Options, logger Logger) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if logger == nil {
		logger = globalLogger
	}
	return &Driver{opts: opts, logger: logger}, nil
}

// Options returns the driver's configuration.
func (d *Driver) Options() Options { return d.opts }

// runtimeModule resolves the module file once per driver.
func (d *Driver) runtimeModule() (RuntimeModule, error) {
	d.once.Do(func() {
		d.module, d.loadErr = OpenRuntimeModule(d.opts.RuntimeModule, d.opts.SetupExport)
	})
	return d.module, d.loadErr
}

// Inject loads the runtime module into process and invokes its setup
// routine with setup. The process may be suspended at its entry point or
// already running; which one is the caller's responsibility.
//
// The module path and the setup argument share one remote allocation. It is
// released only after both remote threads have finished.
func (d *Driver) Inject(ctx context.Context, process windows.Handle, setup string) error {
	req := NewInjectionRequest(setup)
	log := withRequest(d.logger, req.ID())

	module, err := d.prepare(process)
	if err != nil {
		log.Error("Injection failed", "error", err)
		return err
	}

	log.Info("Starting injection", "module", module.Path, "setup", req.Setup())

	path, err := windows.UTF16FromString(module.Path)
	if err != nil {
		return opError("encode module path", ErrLoaderThreadFailed, err)
	}
	p := buildPayload(path, req.Setup())

	err = d.withRemote(process, p.data, log, func(remote uintptr) error {
		base, err := d.loadModule(ctx, process, remote, module, log)
		if err != nil {
			return err
		}
		if err := d.callSetup(ctx, process, base+uintptr(module.SetupRVA), remote+p.argOffset, log); err != nil {
			return err
		}
		log.Info("Injection completed", "module_base", hexAddr(base))
		return nil
	})
	if err != nil {
		log.Error("Injection failed", "error", err)
	}
	return err
}

// LoadRuntime loads the runtime module into process without calling its
// setup routine and returns the setup routine's address in the target.
func (d *Driver) LoadRuntime(ctx context.Context, process windows.Handle) (uintptr, error) {
	log := withRequest(d.logger, uuid.NewString())

	module, err := d.prepare(process)
	if err != nil {
		return 0, err
	}
	path, err := windows.UTF16FromString(module.Path)
	if err != nil {
		return 0, opError("encode module path", ErrLoaderThreadFailed, err)
	}
	p := buildPayload(path, "")

	var setup uintptr
	err = d.withRemote(process, p.data[:p.argOffset], log, func(remote uintptr) error {
		base, err := d.loadModule(ctx, process, remote, module, log)
		if err != nil {
			return err
		}
		setup = base + uintptr(module.SetupRVA)
		return nil
	})
	return setup, err
}

// withRemote copies data into a fresh allocation in process, runs fn with
// its address and releases it afterwards. A remote thread that timed out
// may still read the buffer, so it is left allocated in that case.
func (d *Driver) withRemote(process windows.Handle, data []byte, log Logger, fn func(remote uintptr) error) error {
	remote, err := VirtualAllocEx(process, 0, uintptr(len(data)),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return opError("VirtualAllocEx", ErrRemoteAlloc, err)
	}
	log.Debug("Allocated remote buffer", "address", hexAddr(remote), "size", len(data))

	if err := writeRemote(process, remote, data); err != nil {
		d.free(process, remote, log)
		return opError("WriteProcessMemory", ErrRemoteWrite, err)
	}

	err = fn(remote)
	if errors.Is(err, ErrWaitTimeout) {
		log.Warn("Leaving remote buffer allocated, a remote thread may still use it", "address", hexAddr(remote))
		return err
	}
	d.free(process, remote, log)
	return err
}

func (d *Driver) free(process windows.Handle, remote uintptr, log Logger) {
	if err := VirtualFreeEx(process, remote, 0, windows.MEM_RELEASE); err != nil {
		log.Warn("Failed to free remote buffer", "address", hexAddr(remote), "error", err)
	}
}

// prepare checks the handle and that module and target agree on pointer
// size; LoadLibrary across architectures only ever fails inside the target.
func (d *Driver) prepare(process windows.Handle) (RuntimeModule, error) {
	if process == 0 {
		return RuntimeModule{}, ErrProcessHandleInvalid
	}
	if alive, err := processAlive(process); err != nil {
		return RuntimeModule{}, opError("GetExitCodeProcess", ErrProcessHandleInvalid, err)
	} else if !alive {
		return RuntimeModule{}, ErrProcessGone
	}

	module, err := d.runtimeModule()
	if err != nil {
		return RuntimeModule{}, err
	}

	target64, err := is64Process(process)
	if err != nil {
		return RuntimeModule{}, opError("IsWow64Process", ErrProcessHandleInvalid, err)
	}
	self64 := archBits == 64
	if target64 != self64 || module.Is64() != self64 {
		return RuntimeModule{}, fmt.Errorf("%w (injector %d-bit, target 64-bit=%v, module 64-bit=%v)",
			ErrArchMismatch, archBits, target64, module.Is64())
	}
	return module, nil
}

// loadModule runs LoadLibraryW in the target and returns the module base.
// Thread exit codes are 32 bits wide and can be zero for a valid 64-bit
// base, so success is decided by the module list alone.
func (d *Driver) loadModule(ctx context.Context, process windows.Handle, pathAddr uintptr, module RuntimeModule, log Logger) (uintptr, error) {
	if err := procLoadLibraryW.Find(); err != nil {
		return 0, opError("resolve LoadLibraryW", ErrLoaderThreadFailed, err)
	}
	if _, err := d.runRemote(ctx, process, procLoadLibraryW.Addr(), pathAddr, log); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLoaderThreadFailed, err)
	}

	mod, err := findRemoteModule(process, module.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: LoadLibraryW did not map %s: %w", ErrLoaderThreadFailed, module.Path, err)
	}
	log.Info("Runtime module loaded", "module_base", hexAddr(mod.Base))
	return mod.Base, nil
}

// callSetup runs the setup export in the target. It reports success with a
// zero exit code.
func (d *Driver) callSetup(ctx context.Context, process windows.Handle, setupAddr, argAddr uintptr, log Logger) error {
	code, err := d.runRemote(ctx, process, setupAddr, argAddr, log)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetupThreadFailed, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: setup routine returned %d", ErrSetupThreadFailed, int32(code))
	}
	return nil
}

// runRemote starts a thread in the target and waits for it to finish,
// returning its exit code. The thread handle is ours and is always closed.
func (d *Driver) runRemote(ctx context.Context, process windows.Handle, start, param uintptr, log Logger) (uint32, error) {
	var threadID uint32
	thread, err := CreateRemoteThread(process, nil, 0, start, param, 0, &threadID)
	if err != nil {
		return 0, &OpError{Op: "CreateRemoteThread", Err: err}
	}
	defer windows.CloseHandle(thread)
	log.Debug("Created remote thread", "thread_id", threadID, "start", hexAddr(start))

	if err := waitThread(ctx, thread, d.opts.PollInterval, d.opts.RemoteThreadTimeout); err != nil {
		return 0, err
	}
	code, err := GetExitCodeThread(thread)
	if err != nil {
		return 0, &OpError{Op: "GetExitCodeThread", Err: err}
	}
	return code, nil
}

// waitThread waits for a thread to exit in slices of interval so that ctx
// cancellation is noticed. The last slice is cut to what remains of bound.
func waitThread(ctx context.Context, thread windows.Handle, interval, bound time.Duration) error {
	deadline := time.Now().Add(bound)
	for {
		slice := max(min(interval, time.Until(deadline)), 0)
		ms := uint32(slice / time.Millisecond)
		if slice > 0 && ms == 0 {
			ms = 1
		}
		event, err := windows.WaitForSingleObject(thread, ms)
		if err != nil {
			return &OpError{Op: "WaitForSingleObject", Err: err}
		}
		if event == windows.WAIT_OBJECT_0 {
			return nil
		}
		if event != waitTimeout {
			return fmt.Errorf("unexpected wait result 0x%X", event)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrWaitTimeout, err)
		}
		if time.Until(deadline) <= 0 {
			return fmt.Errorf("%w: remote thread still running after %s", ErrWaitTimeout, bound)
		}
	}
}

// Inject is the boundary used by the update subsystem: inject the runtime
// into process and pass setup to its setup routine. It returns a result
// code, CodeOK on success.
func Inject(process windows.Handle, setup string) int {
	d, err := NewDriver(DefaultOptions(), globalLogger)
	if err != nil {
		return int(CodeOf(err))
	}
	return int(CodeOf(d.Inject(context.Background(), process, setup)))
}
