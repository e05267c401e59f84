package injector

import (
	"fmt"
	"strconv"

	"golang.org/x/arch/x86/x86asm"
)

// selfJump is "jmp $": a two-byte instruction that branches onto itself.
// Parking a thread on it lets us catch the thread at an exact address
// without a debugger.
var selfJump = [2]byte{0xEB, 0xFE}

// isSelfJump reports whether code starts with a jump to its own address.
func isSelfJump(code []byte, bits int) bool {
	inst, err := x86asm.Decode(code, bits)
	if err != nil || inst.Op != x86asm.JMP {
		return false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	return ok && int(rel) == -inst.Len
}

// DescribeInstruction decodes the first instruction of code in Intel
// syntax, as found at addr. bits is 32 or 64.
func DescribeInstruction(code []byte, bits int, addr uintptr) (string, error) {
	inst, err := x86asm.Decode(code, bits)
	if err != nil {
		return "", fmt.Errorf("decode at %s: %w", hexAddr(addr), err)
	}
	return x86asm.IntelSyntax(inst, uint64(addr), nil) + " (" + strconv.Itoa(inst.Len) + " bytes)", nil
}
