package injector

import "unsafe"

const (
	contextFlags = 0x00100003 // CONTEXT_AMD64 | CONTEXT_CONTROL | CONTEXT_INTEGER
	archBits     = 64
)

// threadContext mirrors the x64 CONTEXT record.
type threadContext struct {
	P1Home               uint64
	P2Home               uint64
	P3Home               uint64
	P4Home               uint64
	P5Home               uint64
	P6Home               uint64
	ContextFlags         uint32
	MxCsr                uint32
	SegCs                uint16
	SegDs                uint16
	SegEs                uint16
	SegFs                uint16
	SegGs                uint16
	SegSs                uint16
	EFlags               uint32
	Dr0                  uint64
	Dr1                  uint64
	Dr2                  uint64
	Dr3                  uint64
	Dr6                  uint64
	Dr7                  uint64
	Rax                  uint64
	Rcx                  uint64
	Rdx                  uint64
	Rbx                  uint64
	Rsp                  uint64
	Rbp                  uint64
	Rsi                  uint64
	Rdi                  uint64
	R8                   uint64
	R9                   uint64
	R10                  uint64
	R11                  uint64
	R12                  uint64
	R13                  uint64
	R14                  uint64
	R15                  uint64
	Rip                  uint64
	FltSave              [512]byte
	VectorRegister       [26][16]byte
	VectorControl        uint64
	DebugControl         uint64
	LastBranchToRip      uint64
	LastBranchFromRip    uint64
	LastExceptionToRip   uint64
	LastExceptionFromRip uint64
}

// newThreadContext returns a record aligned to 16 bytes, which
// GetThreadContext requires on x64.
func newThreadContext() *threadContext {
	buf := make([]byte, unsafe.Sizeof(threadContext{})+15)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := (16 - addr%16) % 16
	ctx := (*threadContext)(unsafe.Pointer(&buf[off]))
	ctx.ContextFlags = contextFlags
	return ctx
}

// entryRegister: a freshly created x64 thread starts in RtlUserThreadStart
// with the image entry point in RCX.
func (c *threadContext) entryRegister() uintptr { return uintptr(c.Rcx) }

func (c *threadContext) instructionPointer() uintptr { return uintptr(c.Rip) }
