package vm

import (
	"fmt"
	"strings"

	"github.com/speedata/go-lua54vm/chunk"
)

// Disassemble renders one instruction per line, mnemonic followed by
// its decoded operands, in the style of objdump/luac -l. Grounded on
// the call-stack-depth and per-instruction diagnostics an original
// Rust reference (op_code.go's string form) carries for debugging.
func Disassemble(p *chunk.Prototype) string {
	var sb strings.Builder
	for pc, word := range p.Code {
		i := Instruction(word)
		if i.OpCode() >= opCodeCount {
			fmt.Fprintf(&sb, "%4d\t%-10s\t0x%08x\n", pc, i.OpCode().Name(), word)
			continue
		}
		meta := opTable[i.OpCode()]
		fmt.Fprintf(&sb, "%4d\t%-10s\t%s\n", pc, meta.name, formatOperands(meta.mode, i))
	}
	return sb.String()
}

func formatOperands(mode Mode, i Instruction) string {
	switch mode {
	case ModeABC:
		return fmt.Sprintf("A=%d k=%t B=%d C=%d", i.A(), i.K(), i.B(), i.C())
	case ModeABx:
		return fmt.Sprintf("A=%d Bx=%d", i.A(), i.Bx())
	case ModeAsBx:
		return fmt.Sprintf("A=%d sBx=%d", i.A(), i.SBx())
	case ModeAx:
		return fmt.Sprintf("Ax=%d", i.Ax())
	case ModeSJ:
		return fmt.Sprintf("sJ=%d", i.SJ())
	default:
		return ""
	}
}
