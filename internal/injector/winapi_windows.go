//go:build windows

package injector

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows API function calls not covered by x/sys/windows
var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procVirtualAllocEx        = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx         = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread    = kernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread     = kernel32.NewProc("GetExitCodeThread")
	procGetThreadContext      = kernel32.NewProc("GetThreadContext")
	procSuspendThread         = kernel32.NewProc("SuspendThread")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
	procCreateProcessA        = kernel32.NewProc("CreateProcessA")
	procCreateProcessW        = kernel32.NewProc("CreateProcessW")
	procLoadLibraryA          = kernel32.NewProc("LoadLibraryA")
	procLoadLibraryW          = kernel32.NewProc("LoadLibraryW")
	procSetLastError          = kernel32.NewProc("SetLastError")
)

const (
	stillActive  = 259
	waitTimeout  = 0x00000102
	threadFailed = ^uint32(0)
)

// VirtualAllocEx allocates memory in remote process
func VirtualAllocEx(process windows.Handle, lpAddress uintptr, dwSize uintptr, flAllocationType uint32, flProtect uint32) (uintptr, error) {
	r1, _, e1 := procVirtualAllocEx.Call(
		uintptr(process),
		lpAddress,
		dwSize,
		uintptr(flAllocationType),
		uintptr(flProtect))
	if r1 == 0 {
		return 0, e1
	}
	return r1, nil
}

// VirtualFreeEx frees memory in remote process
func VirtualFreeEx(process windows.Handle, lpAddress uintptr, dwSize uintptr, dwFreeType uint32) error {
	r1, _, e1 := procVirtualFreeEx.Call(
		uintptr(process),
		lpAddress,
		dwSize,
		uintptr(dwFreeType))
	if r1 == 0 {
		return e1
	}
	return nil
}

// CreateRemoteThread creates a thread in remote process. It always calls
// the real kernel32 export, never an import table entry, so it is safe to
// use while the interceptor is installed.
func CreateRemoteThread(process windows.Handle, threadAttributes *windows.SecurityAttributes, stackSize uint32, startAddress uintptr, parameter uintptr, creationFlags uint32, threadID *uint32) (windows.Handle, error) {
	r1, _, e1 := procCreateRemoteThread.Call(
		uintptr(process),
		uintptr(unsafe.Pointer(threadAttributes)),
		uintptr(stackSize),
		startAddress,
		parameter,
		uintptr(creationFlags),
		uintptr(unsafe.Pointer(threadID)))
	if r1 == 0 {
		return 0, e1
	}
	return windows.Handle(r1), nil
}

// GetExitCodeThread returns a finished thread's exit code.
func GetExitCodeThread(thread windows.Handle) (uint32, error) {
	var code uint32
	r1, _, e1 := procGetExitCodeThread.Call(uintptr(thread), uintptr(unsafe.Pointer(&code)))
	if r1 == 0 {
		return 0, e1
	}
	return code, nil
}

// SuspendThread increments a thread's suspend count.
func SuspendThread(thread windows.Handle) error {
	r1, _, e1 := procSuspendThread.Call(uintptr(thread))
	if uint32(r1) == threadFailed {
		return e1
	}
	return nil
}

// FlushInstructionCache makes freshly written code visible to the target.
func FlushInstructionCache(process windows.Handle, addr uintptr, size uintptr) error {
	r1, _, e1 := procFlushInstructionCache.Call(uintptr(process), addr, size)
	if r1 == 0 {
		return e1
	}
	return nil
}

func getThreadContext(thread windows.Handle, ctx *threadContext) error {
	r1, _, e1 := procGetThreadContext.Call(uintptr(thread), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return e1
	}
	return nil
}

func setLastError(err windows.Errno) {
	procSetLastError.Call(uintptr(err))
}

// processAlive reports whether the process has not exited yet.
func processAlive(process windows.Handle) (bool, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(process, &code); err != nil {
		return false, err
	}
	return code == stillActive, nil
}

// is64Process reports whether the process runs with 64-bit pointers.
func is64Process(process windows.Handle) (bool, error) {
	var wow64 bool
	if err := windows.IsWow64Process(process, &wow64); err != nil {
		return false, err
	}
	if wow64 {
		return false, nil
	}
	var self bool
	if err := windows.IsWow64Process(windows.CurrentProcess(), &self); err != nil {
		return false, err
	}
	// Neither side is under WOW64: the target runs natively, so it has the
	// native pointer size. A 32-bit injector on a 32-bit OS only ever sees
	// 32-bit targets.
	return unsafe.Sizeof(uintptr(0)) == 8 || self, nil
}
