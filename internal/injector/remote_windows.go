//go:build windows

package injector

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// remoteModule is a module mapped in a target process.
type remoteModule struct {
	Base uintptr
	Size uint32
	Path string
}

func (m remoteModule) contains(addr uintptr) bool {
	return addr >= m.Base && addr-m.Base < uintptr(m.Size)
}

// findRemoteModule looks a module up by file name in the target's module
// list.
func findRemoteModule(process windows.Handle, name string) (remoteModule, error) {
	pid, err := windows.GetProcessId(process)
	if err != nil {
		return remoteModule{}, opError("GetProcessId", ErrProcessHandleInvalid, err)
	}

	snapshot, err := moduleSnapshot(pid)
	if err != nil {
		return remoteModule{}, err
	}
	defer windows.CloseHandle(snapshot)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	for err = windows.Module32First(snapshot, &me); err == nil; err = windows.Module32Next(snapshot, &me) {
		module := windows.UTF16ToString(me.Module[:])
		path := windows.UTF16ToString(me.ExePath[:])
		if sameModuleName(module, name) || sameModuleName(path, name) {
			return remoteModule{Base: me.ModBaseAddr, Size: me.ModBaseSize, Path: path}, nil
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return remoteModule{}, fmt.Errorf("enumerate modules of process %d: %w", pid, err)
	}
	return remoteModule{}, fmt.Errorf("module %s not found in process %d", name, pid)
}

// moduleSnapshot retries while the target's loader data is in flux, which
// Toolhelp reports as ERROR_BAD_LENGTH or ERROR_PARTIAL_COPY. A target
// whose loader has not started keeps failing with the latter.
func moduleSnapshot(pid uint32) (windows.Handle, error) {
	const retries = 5
	var err error
	for i := 0; i < retries; i++ {
		var snapshot windows.Handle
		snapshot, err = windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, windows.ERROR_BAD_LENGTH) && !errors.Is(err, windows.ERROR_PARTIAL_COPY) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return 0, fmt.Errorf("module snapshot of process %d: %w", pid, err)
}

// imageBase reads the load address of the target's main image from its PEB.
func imageBase(process windows.Handle) (uintptr, error) {
	var pbi windows.PROCESS_BASIC_INFORMATION
	if err := windows.NtQueryInformationProcess(process, windows.ProcessBasicInformation,
		unsafe.Pointer(&pbi), uint32(unsafe.Sizeof(pbi)), nil); err != nil {
		return 0, opError("NtQueryInformationProcess", ErrProcessHandleInvalid, err)
	}
	var base uintptr
	field := uintptr(unsafe.Pointer(pbi.PebBaseAddress)) + unsafe.Offsetof(windows.PEB{}.ImageBaseAddress)
	if err := windows.ReadProcessMemory(process, field, (*byte)(unsafe.Pointer(&base)), unsafe.Sizeof(base), nil); err != nil {
		return 0, fmt.Errorf("read image base from PEB at %s: %w", hexAddr(field), err)
	}
	if base == 0 {
		return 0, fmt.Errorf("PEB at %s has no image base yet", hexAddr(field))
	}
	return base, nil
}

// imagePath returns the full path of the target's main image.
func imagePath(process windows.Handle) (string, error) {
	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(process, 0, &buf[0], &size); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf[:size]), nil
}

func readRemote(process windows.Handle, addr uintptr, buf []byte) error {
	var read uintptr
	if err := windows.ReadProcessMemory(process, addr, &buf[0], uintptr(len(buf)), &read); err != nil {
		return err
	}
	if int(read) != len(buf) {
		return windows.ERROR_PARTIAL_COPY
	}
	return nil
}

func writeRemote(process windows.Handle, addr uintptr, buf []byte) error {
	var written uintptr
	if err := windows.WriteProcessMemory(process, addr, &buf[0], uintptr(len(buf)), &written); err != nil {
		return err
	}
	if int(written) != len(buf) {
		return windows.ERROR_PARTIAL_COPY
	}
	return nil
}
