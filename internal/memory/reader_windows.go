//go:build windows

package memory

import (
	"fmt"
	"io"

	"golang.org/x/sys/windows"
)

// ProcessReader reads a module mapped in some process, addressing it by
// RVA from the module's base.
type ProcessReader struct {
	Process windows.Handle
	Base    uintptr
}

// ReadAt implements io.ReaderAt over ReadProcessMemory.
func (p ProcessReader) ReadAt(buf []byte, off int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	var read uintptr
	err := windows.ReadProcessMemory(p.Process, p.Base+uintptr(off), &buf[0], uintptr(len(buf)), &read)
	if err != nil {
		if read > 0 {
			return int(read), io.ErrUnexpectedEOF
		}
		return 0, fmt.Errorf("read 0x%X bytes at 0x%X: %w", len(buf), uint64(p.Base)+uint64(off), err)
	}
	return int(read), nil
}

// ReadProcessImage parses the headers of the module mapped at base.
func ReadProcessImage(process windows.Handle, base uintptr) (*Image, error) {
	return ReadImage(ProcessReader{Process: process, Base: base})
}
