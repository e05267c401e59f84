package injector

const (
	contextFlags = 0x00010003 // CONTEXT_i386 | CONTEXT_CONTROL | CONTEXT_INTEGER
	archBits     = 32
)

// threadContext mirrors the x86 CONTEXT record.
type threadContext struct {
	ContextFlags      uint32
	Dr0               uint32
	Dr1               uint32
	Dr2               uint32
	Dr3               uint32
	Dr6               uint32
	Dr7               uint32
	FloatSave         [112]byte
	SegGs             uint32
	SegFs             uint32
	SegEs             uint32
	SegDs             uint32
	Edi               uint32
	Esi               uint32
	Ebx               uint32
	Edx               uint32
	Ecx               uint32
	Eax               uint32
	Ebp               uint32
	Eip               uint32
	SegCs             uint32
	EFlags            uint32
	Esp               uint32
	SegSs             uint32
	ExtendedRegisters [512]byte
}

func newThreadContext() *threadContext {
	return &threadContext{ContextFlags: contextFlags}
}

// entryRegister: a freshly created x86 thread holds the image entry point
// in EAX until it executes its first instruction.
func (c *threadContext) entryRegister() uintptr { return uintptr(c.Eax) }

func (c *threadContext) instructionPointer() uintptr { return uintptr(c.Eip) }
