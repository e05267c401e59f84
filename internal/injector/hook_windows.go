//go:build windows

package injector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/VBChunguk/thcrap/internal/memory"
	"golang.org/x/sys/windows"
)

type hookedFunction int

const (
	fnCreateProcessA hookedFunction = iota
	fnCreateProcessW
	fnCreateRemoteThread
	fnCount
)

var hookedNames = [fnCount]string{
	fnCreateProcessA:     "CreateProcessA",
	fnCreateProcessW:     "CreateProcessW",
	fnCreateRemoteThread: "CreateRemoteThread",
}

func (f hookedFunction) String() string { return hookedNames[f] }

// exports are the real entry points, used when no original was recorded.
func (f hookedFunction) export() *windows.LazyProc {
	switch f {
	case fnCreateProcessA:
		return procCreateProcessA
	case fnCreateProcessW:
		return procCreateProcessW
	default:
		return procCreateRemoteThread
	}
}

type slotKey struct {
	addr uintptr
	fn   hookedFunction
}

// Callbacks are process-wide and never released. Each import slot gets its
// own, so a call arriving through it can be forwarded to whatever that slot
// held before, and it is reused when the slot is patched again.
var (
	callbacksMu sync.Mutex
	callbacks   = make(map[slotKey]uintptr)

	// originals maps a slotKey to the pointer the slot held when it was
	// patched. Entries outlive Uninstall for callers still inside a detour.
	originals sync.Map
)

func slotCallback(addr uintptr, fn hookedFunction) uintptr {
	key := slotKey{addr, fn}
	callbacksMu.Lock()
	defer callbacksMu.Unlock()
	if cb, ok := callbacks[key]; ok {
		return cb
	}

	var cb uintptr
	if fn == fnCreateRemoteThread {
		cb = windows.NewCallback(func(process, attrs, stackSize, start, param, flags, threadID uintptr) uintptr {
			return createRemoteThreadHook(key, RemoteThreadCall{
				Process:          process,
				ThreadAttributes: attrs,
				StackSize:        stackSize,
				StartAddress:     start,
				Parameter:        param,
				CreationFlags:    flags,
				ThreadID:         threadID,
			})
		})
	} else {
		cb = windows.NewCallback(func(app, cmd, procAttr, threadAttr, inherit, flags, env, dir, si, pi uintptr) uintptr {
			return dispatchCreateProcess(key, ProcessCreateCall{
				Wide:            fn == fnCreateProcessW,
				ApplicationName: app, CommandLine: cmd, ProcessAttributes: procAttr, ThreadAttributes: threadAttr,
				InheritHandles: inherit, CreationFlags: uint32(flags), Environment: env, CurrentDirectory: dir,
				StartupInfo: si, ProcessInformation: pi,
			})
		})
	}
	callbacks[key] = cb
	return cb
}

// original returns where a call that came in through key continues.
func original(key slotKey) uintptr {
	if v, ok := originals.Load(key); ok {
		return v.(uintptr)
	}
	return key.fn.export().Addr()
}

// active is the interceptor the callbacks dispatch to.
var active atomic.Pointer[Interceptor]

// importSlot is one patched import address table entry.
type importSlot struct {
	module   windows.Handle
	addr     uintptr
	fn       hookedFunction
	original uintptr
	callback uintptr
}

// Interceptor redirects process and remote-thread creation made by other
// modules of the current process. Only one interceptor can be installed at
// a time.
type Interceptor struct {
	driver   *Driver
	launcher *Launcher
	logger   Logger

	// loader is read by callbacks on arbitrary threads.
	loader atomic.Uintptr

	mu    sync.Mutex
	slots map[uintptr]*importSlot
}

// NewInterceptor returns an interceptor that injects through launcher's
// driver.
func NewInterceptor(launcher *Launcher, logger Logger) *Interceptor {
	if logger == nil {
		logger = globalLogger
	}
	return &Interceptor{
		driver:   launcher.driver,
		launcher: launcher,
		logger:   logger,
		slots:    make(map[uintptr]*importSlot),
	}
}

// Install patches the import tables of the given modules. Entries that are
// already patched are left alone, so installing twice never chains the
// detour onto itself. On failure every entry patched by this call is
// restored and an error wrapping ErrHookInstall is returned; calls keep
// going to the original functions.
func (in *Interceptor) Install(modules ...windows.Handle) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if other := active.Load(); other != nil && other != in {
		return fmt.Errorf("%w: another interceptor is installed", ErrHookInstall)
	}
	if err := in.resolve(); err != nil {
		return err
	}

	var added []*importSlot
	for _, module := range modules {
		slots, err := in.patchModule(module)
		added = append(added, slots...)
		if err != nil {
			in.logger.Error("Hook installation failed, interception disabled for this call", "module", hexAddr(uintptr(module)), "error", err)
			for _, s := range added {
				in.unpatch(s)
			}
			return err
		}
	}

	if len(in.slots) > 0 {
		active.Store(in)
	}
	in.logger.Info("Interceptor installed", "patched", len(added), "total", len(in.slots))
	return nil
}

// Uninstall writes the recorded original pointers back. Entries that were
// re-patched by someone else since are left as they are.
func (in *Interceptor) Uninstall() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	var errs []error
	for _, s := range in.slots {
		if err := in.unpatch(s); err != nil {
			errs = append(errs, err)
		}
	}
	active.CompareAndSwap(in, nil)
	in.logger.Info("Interceptor uninstalled")
	return errors.Join(errs...)
}

// Hooks returns the number of patched import entries.
func (in *Interceptor) Hooks() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.slots)
}

func (in *Interceptor) resolve() error {
	for f := hookedFunction(0); f < fnCount; f++ {
		if err := f.export().Find(); err != nil {
			return opError("resolve "+f.String(), ErrHookInstall, err)
		}
	}
	if err := procLoadLibraryA.Find(); err != nil {
		return opError("resolve LoadLibraryA", ErrHookInstall, err)
	}
	in.loader.Store(procLoadLibraryA.Addr())
	return nil
}

func (in *Interceptor) patchModule(module windows.Handle) ([]*importSlot, error) {
	if module == 0 {
		return nil, fmt.Errorf("%w: null module handle", ErrHookInstall)
	}
	img, err := memory.ReadProcessImage(windows.CurrentProcess(), uintptr(module))
	if err != nil {
		return nil, opError("read module headers", ErrHookInstall, err)
	}
	imports, err := img.Imports()
	if err != nil {
		return nil, opError("read import table", ErrHookInstall, err)
	}

	var added []*importSlot
	for _, imp := range imports {
		fn, ok := hookedImport(imp)
		if !ok {
			continue
		}
		s, err := in.patchSlot(module, uintptr(module)+uintptr(imp.SlotRVA), fn)
		if err != nil {
			return added, err
		}
		if s != nil {
			added = append(added, s)
		}
	}
	return added, nil
}

// patchSlot points one import slot at its callback. It returns nil for a
// slot that already holds it.
func (in *Interceptor) patchSlot(module windows.Handle, addr uintptr, fn hookedFunction) (*importSlot, error) {
	if _, done := in.slots[addr]; done {
		return nil, nil
	}
	cb := slotCallback(addr, fn)
	current := atomic.LoadUintptr(slotPointer(addr))
	if current == cb {
		return nil, nil
	}
	// Published before the slot is written, so the first call through it
	// already finds where to go.
	originals.Store(slotKey{addr, fn}, current)
	if err := writeSlot(addr, cb); err != nil {
		return nil, opError("patch "+fn.String(), ErrHookInstall, err)
	}
	s := &importSlot{module: module, addr: addr, fn: fn, original: current, callback: cb}
	in.slots[addr] = s
	in.logger.Debug("Patched import", "function", fn.String(), "slot", hexAddr(addr), "original", hexAddr(current))
	return s, nil
}

func (in *Interceptor) unpatch(s *importSlot) error {
	delete(in.slots, s.addr)
	if atomic.LoadUintptr(slotPointer(s.addr)) != s.callback {
		in.logger.Warn("Import entry changed since install, leaving it", "function", s.fn.String(), "slot", hexAddr(s.addr))
		return nil
	}
	if err := writeSlot(s.addr, s.original); err != nil {
		return opError("restore "+s.fn.String(), ErrHookInstall, err)
	}
	return nil
}

// hookedImport maps an import to the function it is detoured to. Newer
// import libraries reach these through the API set contracts.
func hookedImport(imp memory.ImportedFunction) (hookedFunction, bool) {
	lib := strings.ToLower(imp.Library)
	if lib != "kernel32.dll" && lib != "kernelbase.dll" && !strings.HasPrefix(lib, "api-ms-win-core-processthreads-") {
		return 0, false
	}
	for f := hookedFunction(0); f < fnCount; f++ {
		if imp.Name == hookedNames[f] {
			return f, true
		}
	}
	return 0, false
}

func slotPointer(addr uintptr) *uintptr {
	return (*uintptr)(unsafe.Pointer(addr))
}

// writeSlot stores a pointer into an import table, which usually lives in
// a read-only page.
func writeSlot(addr, value uintptr) error {
	size := unsafe.Sizeof(value)
	var old uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_READWRITE, &old); err != nil {
		return err
	}
	atomic.StoreUintptr(slotPointer(addr), value)
	return windows.VirtualProtect(addr, size, old, &old)
}

// callOriginal invokes the original function and carries its last error back to
// our caller.
func callOriginal(target uintptr, args []uintptr) uintptr {
	r1, _, errno := syscall.SyscallN(target, args...)
	if r1 == 0 {
		setLastError(errno)
	}
	return r1
}

func (in *Interceptor) createRemoteThread(key slotKey, c RemoteThreadCall) uintptr {
	switch classifyRemoteThread(c, in.loader.Load()) {
	case LoaderRedirect:
		setup, err := in.driver.LoadRuntime(context.Background(), windows.Handle(c.Process))
		if err != nil {
			in.logger.Warn("Runtime load failed, forwarding loader thread unchanged", "error", err)
			break
		}
		in.logger.Info("Redirecting loader thread to runtime setup", "setup", hexAddr(setup), "parameter", hexAddr(c.Parameter))
		c.StartAddress = setup
	}
	return callOriginal(original(key), c.args())
}

func (in *Interceptor) createProcess(key slotKey, c ProcessCreateCall) uintptr {
	r1 := callOriginal(original(key), c.args())
	if r1 == 0 {
		return 0
	}
	pi := (*windows.ProcessInformation)(unsafe.Pointer(c.ProcessInformation))
	if _, err := in.launcher.finish(context.Background(), pi, c.CreationFlags); err != nil {
		in.logger.Error("Injection into created process failed", "function", key.fn.String(), "process_id", pi.ProcessId, "error", err)
		setLastError(windows.ERROR_DLL_INIT_FAILED)
		return 0
	}
	return r1
}

func createRemoteThreadHook(key slotKey, c RemoteThreadCall) uintptr {
	in := active.Load()
	if in == nil {
		return callOriginal(original(key), c.args())
	}
	return in.createRemoteThread(key, c)
}

func dispatchCreateProcess(key slotKey, c ProcessCreateCall) uintptr {
	in := active.Load()
	if in == nil {
		// Uninstalled while a caller still held the detour: behave natively.
		return callOriginal(original(key), c.nativeArgs())
	}
	return in.createProcess(key, c)
}
