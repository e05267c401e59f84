//go:build windows

package injector

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/VBChunguk/thcrap/internal/memory"
	"golang.org/x/sys/windows"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.WaitTimeout = 5 * time.Second
	opts.RemoteThreadTimeout = 5 * time.Second
	return opts
}

func systemBinary(t *testing.T, name string) string {
	t.Helper()
	dir, err := windows.GetSystemDirectory()
	if err != nil {
		t.Fatalf("GetSystemDirectory failed: %v", err)
	}
	return filepath.Join(dir, name)
}

const (
	exitAtOnce = "/c exit 0"
	runAWhile  = "/c ping -n 30 127.0.0.1 > nul"
)

// startSuspended creates a cmd.exe running args, with its primary thread
// suspended before its first instruction.
func startSuspended(t *testing.T, args string) *TargetProcess {
	t.Helper()
	app := systemBinary(t, "cmd.exe")
	cmd, err := windows.UTF16PtrFromString(`"` + app + `" ` + args)
	if err != nil {
		t.Fatalf("UTF16PtrFromString failed: %v", err)
	}
	si := windows.StartupInfo{Cb: uint32(unsafe.Sizeof(windows.StartupInfo{}))}
	var pi windows.ProcessInformation
	err = windows.CreateProcess(nil, cmd, nil, nil, false,
		windows.CREATE_SUSPENDED|windows.CREATE_NO_WINDOW, nil, nil, &si, &pi)
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}
	tp := targetFromInformation(&pi, windows.CREATE_SUSPENDED)
	t.Cleanup(func() {
		windows.TerminateProcess(tp.Process, 1)
		tp.Close()
	})
	if err := tp.Advance(StateSuspended); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	return tp
}

// systemRuntime configures a system DLL that every target already has
// mapped as the runtime module, with export standing in for the setup
// routine.
func systemRuntime(t *testing.T, export string) Options {
	t.Helper()
	opts := testOptions()
	opts.RuntimeModule = systemBinary(t, "kernelbase.dll")
	opts.SetupExport = export
	return opts
}

const memFree = 0x10000

// allocatedBuffers returns the remote addresses the driver logged as
// allocated.
func allocatedBuffers(t *testing.T, rec *recordingLogger) []uintptr {
	t.Helper()
	var addrs []uintptr
	for _, e := range rec.entries {
		if e.msg != "Allocated remote buffer" {
			continue
		}
		for i := 0; i+1 < len(e.fields); i += 2 {
			if e.fields[i] != "address" {
				continue
			}
			s, _ := e.fields[i+1].(string)
			v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
			if err != nil {
				t.Fatalf("unparsable buffer address %q: %v", s, err)
			}
			addrs = append(addrs, uintptr(v))
		}
	}
	return addrs
}

func requireReleased(t *testing.T, process windows.Handle, addr uintptr) {
	t.Helper()
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(process, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		t.Fatalf("VirtualQueryEx(%s) failed: %v", hexAddr(addr), err)
	}
	if mbi.State != memFree {
		t.Fatalf("remote buffer %s still allocated (state 0x%X)", hexAddr(addr), mbi.State)
	}
}

func imageOnDisk(t *testing.T, path string) *memory.Image {
	t.Helper()
	img, err := memory.ReadImageFile(path)
	if err != nil {
		t.Fatalf("ReadImage(%s) failed: %v", path, err)
	}
	return img
}

func TestWaitUntilEntryPoint(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	img := imageOnDisk(t, systemBinary(t, "cmd.exe"))

	if err := WaitUntilEntryPoint(context.Background(), tp, "", testOptions(), nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint failed: %v", err)
	}
	if tp.State() != StateEntryReached {
		t.Fatalf("expected %v, got %v", StateEntryReached, tp.State())
	}

	mod, err := findRemoteModule(tp.Process, "cmd.exe")
	if err != nil {
		t.Fatalf("findRemoteModule failed: %v", err)
	}
	if want := mod.Base + uintptr(img.EntryRVA); tp.Entry != want {
		t.Fatalf("entry %s, image declares %s", hexAddr(tp.Entry), hexAddr(want))
	}

	ip, err := instructionPointer(tp.Thread)
	if err != nil {
		t.Fatalf("instructionPointer failed: %v", err)
	}
	if ip != tp.Entry {
		t.Fatalf("thread parked at %s, want %s", hexAddr(ip), hexAddr(tp.Entry))
	}

	code := make([]byte, 2)
	if err := readRemote(tp.Process, tp.Entry, code); err != nil {
		t.Fatalf("readRemote failed: %v", err)
	}
	if isSelfJump(code, archBits) {
		t.Fatalf("wait loop left at the entry point")
	}
}

// Right after creation the loader has not built its module list yet; the
// main image must still resolve by name.
func TestWaitUntilEntryPointMainModule(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	img := imageOnDisk(t, systemBinary(t, "cmd.exe"))

	if err := WaitUntilEntryPoint(context.Background(), tp, "cmd.exe", testOptions(), nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint(cmd.exe) failed: %v", err)
	}
	if tp.State() != StateEntryReached {
		t.Fatalf("expected %v, got %v", StateEntryReached, tp.State())
	}
	base, err := imageBase(tp.Process)
	if err != nil {
		t.Fatalf("imageBase failed: %v", err)
	}
	if want := base + uintptr(img.EntryRVA); tp.Entry != want {
		t.Fatalf("entry %s, image declares %s", hexAddr(tp.Entry), hexAddr(want))
	}
	ip, err := instructionPointer(tp.Thread)
	if err != nil {
		t.Fatalf("instructionPointer failed: %v", err)
	}
	if ip != tp.Entry {
		t.Fatalf("thread parked at %s, want %s", hexAddr(ip), hexAddr(tp.Entry))
	}
}

func TestWaitUntilEntryPointUnmappedModule(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	err := WaitUntilEntryPoint(context.Background(), tp, "not-mapped.dll", testOptions(), nil)
	if !errors.Is(err, ErrContextRead) {
		t.Fatalf("expected ErrContextRead, got %v", err)
	}
	if tp.State() != StateFailed {
		t.Fatalf("expected %v, got %v", StateFailed, tp.State())
	}
}

func TestThreadWaitUntilTimeoutRestoresCode(t *testing.T) {
	tp := startSuspended(t, runAWhile)
	opts := testOptions()
	if err := WaitUntilEntryPoint(context.Background(), tp, "", opts, nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint failed: %v", err)
	}
	mod, err := findRemoteModule(tp.Process, "cmd.exe")
	if err != nil {
		t.Fatalf("findRemoteModule failed: %v", err)
	}

	// The image headers are never executed.
	opts.WaitTimeout = 50 * time.Millisecond
	start := time.Now()
	err = ThreadWaitUntil(context.Background(), tp.Process, tp.Thread, mod.Base, opts, nil)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("bounded wait took %v", elapsed)
	}

	magic := make([]byte, 2)
	if err := readRemote(tp.Process, mod.Base, magic); err != nil {
		t.Fatalf("readRemote failed: %v", err)
	}
	if string(magic) != "MZ" {
		t.Fatalf("original bytes not restored: % X", magic)
	}
}

func TestThreadWaitUntilProcessGone(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	entry, err := EntryFromContext(tp.Thread)
	if err != nil {
		t.Fatalf("EntryFromContext failed: %v", err)
	}
	if err := windows.TerminateProcess(tp.Process, 1); err != nil {
		t.Fatalf("TerminateProcess failed: %v", err)
	}
	windows.WaitForSingleObject(tp.Process, windows.INFINITE)

	err = ThreadWaitUntil(context.Background(), tp.Process, tp.Thread, entry, testOptions(), nil)
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("expected ErrProcessGone, got %v", err)
	}
}

func TestInjectBoundaryInvalidHandle(t *testing.T) {
	if got := Inject(0, "test.cfg"); got != int(CodeProcessHandleInvalid) {
		t.Fatalf("Inject(0) = %d (%v)", got, Code(got))
	}
}

func TestInjectMissingModule(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	if err := WaitUntilEntryPoint(context.Background(), tp, "", testOptions(), nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint failed: %v", err)
	}

	opts := testOptions()
	opts.RuntimeModule = filepath.Join(t.TempDir(), "missing.dll")
	d, err := NewDriver(opts, nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	err = d.Inject(context.Background(), tp.Process, "test.cfg")
	if !errors.Is(err, ErrLoaderThreadFailed) {
		t.Fatalf("expected ErrLoaderThreadFailed, got %v", err)
	}
}

func TestInjectSucceeds(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	if err := WaitUntilEntryPoint(context.Background(), tp, "", testOptions(), nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint failed: %v", err)
	}

	// GetModuleHandleW("test.cfg") finds nothing and returns zero.
	rec := &recordingLogger{}
	d, err := NewDriver(systemRuntime(t, "GetModuleHandleW"), rec)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	if err := d.Inject(context.Background(), tp.Process, "test.cfg"); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if _, err := findRemoteModule(tp.Process, "kernelbase.dll"); err != nil {
		t.Fatalf("runtime module not in the target's module list: %v", err)
	}
	bufs := allocatedBuffers(t, rec)
	if len(bufs) != 1 {
		t.Fatalf("expected one remote buffer, got %d", len(bufs))
	}
	requireReleased(t, tp.Process, bufs[0])
}

func TestInjectSetupFailureReleasesBuffer(t *testing.T) {
	tp := startSuspended(t, exitAtOnce)
	if err := WaitUntilEntryPoint(context.Background(), tp, "", testOptions(), nil); err != nil {
		t.Fatalf("WaitUntilEntryPoint failed: %v", err)
	}

	// lstrlenW("test.cfg") exits with 8, a failing setup result.
	rec := &recordingLogger{}
	d, err := NewDriver(systemRuntime(t, "lstrlenW"), rec)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	err = d.Inject(context.Background(), tp.Process, "test.cfg")
	if !errors.Is(err, ErrSetupThreadFailed) {
		t.Fatalf("expected ErrSetupThreadFailed, got %v", err)
	}
	if got := CodeOf(err); got != CodeSetupThreadFailed {
		t.Fatalf("CodeOf = %v, want %v", got, CodeSetupThreadFailed)
	}
	bufs := allocatedBuffers(t, rec)
	if len(bufs) != 1 {
		t.Fatalf("expected one remote buffer, got %d", len(bufs))
	}
	requireReleased(t, tp.Process, bufs[0])
}

func TestOpenRuntimeModuleRejectsForwarder(t *testing.T) {
	// kernel32 forwards this export to ntdll.
	_, err := OpenRuntimeModule(systemBinary(t, "kernel32.dll"), "AcquireSRWLockExclusive")
	if !errors.Is(err, ErrSetupThreadFailed) || !strings.Contains(err.Error(), "forwards") {
		t.Fatalf("expected a forwarded export to be rejected, got %v", err)
	}
}

func TestLaunchLeavesFailedTargetSuspended(t *testing.T) {
	opts := testOptions()
	opts.RuntimeModule = filepath.Join(t.TempDir(), "missing.dll")
	d, err := NewDriver(opts, nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	l := NewLauncher(d, "test.cfg", nil)

	app := systemBinary(t, "cmd.exe")
	tp, err := l.Launch(context.Background(), LaunchRequest{CommandLine: `"` + app + `" /c exit 0`})
	if tp == nil {
		t.Fatalf("expected the created process back, got error %v", err)
	}
	t.Cleanup(func() {
		tp.Terminate(1)
		tp.Close()
	})
	if !errors.Is(err, ErrLoaderThreadFailed) {
		t.Fatalf("expected ErrLoaderThreadFailed, got %v", err)
	}
	if tp.State() != StateFailed {
		t.Fatalf("expected %v, got %v", StateFailed, tp.State())
	}

	// A suspended cmd.exe never exits on its own.
	event, err := windows.WaitForSingleObject(tp.Process, 200)
	if err != nil {
		t.Fatalf("WaitForSingleObject failed: %v", err)
	}
	if event != waitTimeout {
		t.Fatalf("target kept running after failed injection")
	}
}

func TestInterceptorInstall(t *testing.T) {
	d, err := NewDriver(testOptions(), nil)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	in := NewInterceptor(NewLauncher(d, "test.cfg", nil), nil)

	if err := in.Install(0); !errors.Is(err, ErrHookInstall) {
		t.Fatalf("expected ErrHookInstall for a null module, got %v", err)
	}

	shell32, err := windows.LoadLibrary("shell32.dll")
	if err != nil {
		t.Fatalf("LoadLibrary failed: %v", err)
	}
	if err := in.Install(shell32); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	n := in.Hooks()
	if err := in.Install(shell32); err != nil {
		t.Fatalf("second Install failed: %v", err)
	}
	if in.Hooks() != n {
		t.Fatalf("second Install chained again: %d hooks, had %d", in.Hooks(), n)
	}

	var slots []*importSlot
	for _, s := range in.slots {
		slots = append(slots, s)
	}
	if err := in.Uninstall(); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if in.Hooks() != 0 {
		t.Fatalf("expected no hooks after Uninstall, got %d", in.Hooks())
	}
	for _, s := range slots {
		if got := *slotPointer(s.addr); got != s.original {
			t.Fatalf("%s slot holds %s, want %s", s.fn, hexAddr(got), hexAddr(s.original))
		}
	}
	if active.Load() != nil {
		t.Fatalf("interceptor still active after Uninstall")
	}
}
