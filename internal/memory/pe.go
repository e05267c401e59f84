package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Binject/debug/pe"
)

// Image is a parsed view over the headers of a PE image as the loader maps
// it: offsets given to the underlying reader are relative virtual
// addresses, not file offsets.
type Image struct {
	r    io.ReaderAt
	file *pe.File

	Machine       uint16
	Is64          bool
	EntryRVA      uint32
	SizeOfImage   uint32
	SizeOfHeaders uint32
}

// ImportedFunction is one entry of an import table. SlotRVA addresses the
// import address table cell the loader filled for it.
type ImportedFunction struct {
	Library string
	Name    string
	Ordinal uint16
	SlotRVA uint32
}

const maxNameLength = 512

var ErrNotPE = errors.New("not a PE image")

// ReadImage parses the headers of a mapped image.
func ReadImage(r io.ReaderAt) (*Image, error) {
	f, err := pe.NewFileFromMemory(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPE, err)
	}
	return newImage(r, f)
}

// ReadImageFile parses an image file on disk. Import slots of such an image
// are file-relative and not meaningful; use it for header fields only.
func ReadImageFile(path string) (*Image, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPE, err)
	}
	defer f.Close()
	return newImage(nil, f)
}

func newImage(r io.ReaderAt, f *pe.File) (*Image, error) {
	img := &Image{r: r, file: f, Machine: f.Machine}
	// The import walk asserts the header width from the machine.
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if f.Machine == pe.IMAGE_FILE_MACHINE_AMD64 {
			return nil, fmt.Errorf("%w: PE32 header on an AMD64 image", ErrNotPE)
		}
		img.EntryRVA = oh.AddressOfEntryPoint
		img.SizeOfImage = oh.SizeOfImage
		img.SizeOfHeaders = oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		if f.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
			return nil, fmt.Errorf("%w: PE32+ header on machine 0x%X", ErrNotPE, f.Machine)
		}
		img.Is64 = true
		img.EntryRVA = oh.AddressOfEntryPoint
		img.SizeOfImage = oh.SizeOfImage
		img.SizeOfHeaders = oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("%w: no optional header", ErrNotPE)
	}
	return img, nil
}

// ContainsRVA reports whether rva falls inside the mapped image.
func (img *Image) ContainsRVA(rva uint64) bool {
	return rva < uint64(img.SizeOfImage)
}

func (img *Image) importDirectory() pe.DataDirectory {
	switch oh := img.file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			return oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			return oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	}
	return pe.DataDirectory{}
}

// Imports walks the import descriptors and returns every imported function
// with the address of its import address table slot.
func (img *Image) Imports() ([]ImportedFunction, error) {
	if img.r == nil {
		return nil, errors.New("imports of an on-disk image are not addressable")
	}
	dir := img.importDirectory()
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	// The descriptor table is sliced out of raw section data, which may be
	// shorter than the section's mapped size.
	for _, s := range img.file.Sections {
		if s.VirtualAddress <= dir.VirtualAddress && dir.VirtualAddress < s.VirtualAddress+s.VirtualSize {
			if dir.VirtualAddress-s.VirtualAddress >= s.Size {
				return nil, fmt.Errorf("import directory at RVA 0x%X lies past raw data of %s", dir.VirtualAddress, s.Name)
			}
			break
		}
	}

	descs, _, _, err := img.file.ImportDirectoryTable()
	if err != nil {
		return nil, fmt.Errorf("read import descriptors: %w", err)
	}

	thunkSize := uint32(4)
	if img.Is64 {
		thunkSize = 8
	}

	var funcs []ImportedFunction
	for _, desc := range descs {
		library := desc.DllName
		if library == "" {
			if library, err = img.cString(desc.NameRVA); err != nil {
				return nil, err
			}
		}
		for i := uint32(0); ; i++ {
			thunk, err := img.thunk(desc.OriginalFirstThunk+i*thunkSize, thunkSize)
			if err != nil {
				return nil, err
			}
			if thunk == 0 {
				break
			}
			fn := ImportedFunction{Library: library, SlotRVA: desc.FirstThunk + i*thunkSize}
			if byOrdinal(thunk, img.Is64) {
				fn.Ordinal = uint16(thunk)
			} else {
				if fn.Name, err = img.cString(uint32(thunk) + 2); err != nil {
					return nil, err
				}
			}
			funcs = append(funcs, fn)
		}
	}
	return funcs, nil
}

func (img *Image) thunk(rva, size uint32) (uint64, error) {
	var buf [8]byte
	if _, err := img.r.ReadAt(buf[:size], int64(rva)); err != nil {
		return 0, fmt.Errorf("read thunk: %w", err)
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:])), nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func byOrdinal(thunk uint64, is64 bool) bool {
	if is64 {
		return thunk&(1<<63) != 0
	}
	return thunk&(1<<31) != 0
}

func (img *Image) cString(rva uint32) (string, error) {
	buf := make([]byte, 0, 32)
	var chunk [32]byte
	for len(buf) < maxNameLength {
		n, err := img.r.ReadAt(chunk[:], int64(rva)+int64(len(buf)))
		for _, b := range chunk[:n] {
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
		if err != nil {
			return "", fmt.Errorf("read string at RVA 0x%X: %w", rva, err)
		}
	}
	return "", fmt.Errorf("string at RVA 0x%X exceeds %d bytes", rva, maxNameLength)
}
