package vm

import (
	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/value"
)

// Run interprets p from its first instruction through RETURN and
// returns the values the RETURN instruction captured. It builds a
// fresh State, so independent calls never share mutable VM state
// (safe to call concurrently for distinct Prototypes, per spec.md §5).
func Run(p *chunk.Prototype) ([]value.Value, error) {
	s := NewState(p)
	s.CheckStack(p.MaxStackSize)
	s.SetTop(p.MaxStackSize)
	if err := Exec(s); err != nil {
		return nil, err
	}
	return s.Results(), nil
}

// Exec runs the fetch-decode-execute loop against an already-prepared
// State until a RETURN instruction sets Halted, or an opcode handler
// returns an error.
func Exec(s *State) error {
	for !s.halted {
		i, err := s.Fetch()
		if err != nil {
			return err
		}
		if i.OpCode() >= opCodeCount {
			return &OpcodeError{PC: s.pc - 1, Op: i.OpCode().Name(), Reason: "unknown opcode"}
		}
		meta := opTable[i.OpCode()]
		if meta.handler == nil {
			return &OpcodeError{PC: s.pc - 1, Op: i.OpCode().Name(), Reason: "opcode has no metadata"}
		}
		if err := meta.handler(s, i); err != nil {
			return err
		}
	}
	return nil
}
