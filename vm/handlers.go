package vm

import (
	"github.com/speedata/go-lua54vm/value"
)

// opMove is MOVE: R(A) := R(B).
func opMove(s *State, i Instruction) error {
	v, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	return s.SetReg(i.A(), v)
}

// opLoadI is LOADI: R(A) := sBx (an Integer literal).
func opLoadI(s *State, i Instruction) error {
	return s.SetReg(i.A(), value.Int(int64(i.SBx())))
}

// opLoadF is LOADF: R(A) := float(sBx) (a Number literal).
func opLoadF(s *State, i Instruction) error {
	return s.SetReg(i.A(), value.Float(float64(i.SBx())))
}

// opLoadK is LOADK: R(A) := K(Bx).
func opLoadK(s *State, i Instruction) error {
	k := i.Bx()
	if k < 0 || k >= len(s.proto.Constants) {
		return &OpcodeError{PC: s.pc, Op: "LOADK", Reason: "constant index out of range"}
	}
	return s.SetReg(i.A(), s.proto.Constants[k])
}

// opLoadKX is LOADKX: R(A) := K(extra arg), where the extra arg is the
// Ax field of the EXTRAARG instruction immediately following.
func opLoadKX(s *State, i Instruction) error {
	extra, err := s.Fetch()
	if err != nil {
		return err
	}
	if extra.OpCode() != OpExtraArg {
		return &OpcodeError{PC: s.pc - 1, Op: "LOADKX", Reason: "instruction following LOADKX is not EXTRAARG"}
	}
	k := extra.Ax()
	if k < 0 || k >= len(s.proto.Constants) {
		return &OpcodeError{PC: s.pc - 1, Op: "LOADKX", Reason: "constant index out of range"}
	}
	return s.SetReg(i.A(), s.proto.Constants[k])
}

func opLoadFalse(s *State, i Instruction) error { return s.SetReg(i.A(), value.Bool(false)) }
func opLoadTrue(s *State, i Instruction) error  { return s.SetReg(i.A(), value.Bool(true)) }

// opLoadNil is LOADNIL: R(A), R(A+1), ..., R(A+B) := nil.
func opLoadNil(s *State, i Instruction) error {
	for k := 0; k <= i.B(); k++ {
		if err := s.SetReg(i.A()+k, value.Nil); err != nil {
			return err
		}
	}
	return nil
}

// opJump is JMP: pc += sJ.
func opJump(s *State, i Instruction) error {
	s.AddPC(i.SJ())
	return nil
}

// skipIf advances pc by one (skipping the JMP that must follow a test
// instruction) when got doesn't match the k bit, per the EQ/LT/LE/
// EQI/.../GEI convention: "if (test) ~= k then pc++".
func skipIf(s *State, got bool, k bool) {
	if got != k {
		s.AddPC(1)
	}
}

func opEq(s *State, i Instruction) error {
	got, err := s.Compare(i.A(), i.B(), CompareEqual)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

func opLt(s *State, i Instruction) error {
	got, err := s.Compare(i.A(), i.B(), CompareLess)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

func opLe(s *State, i Instruction) error {
	got, err := s.Compare(i.A(), i.B(), CompareLessOrEqual)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

// immediateCompare resolves R(A) against the signed immediate carried
// in B (biased by immediateBias, same encoding as ADDI's sC).
func immediateCompare(s *State, i Instruction) (value.Value, value.Value, error) {
	a, err := s.GetReg(i.A())
	if err != nil {
		return value.Nil, value.Nil, err
	}
	imm := value.Int(int64(i.B() - immediateBias))
	return a, imm, nil
}

func opEqI(s *State, i Instruction) error {
	a, imm, err := immediateCompare(s, i)
	if err != nil {
		return err
	}
	skipIf(s, a.Equal(imm), i.K())
	return nil
}

func opLtI(s *State, i Instruction) error {
	a, imm, err := immediateCompare(s, i)
	if err != nil {
		return err
	}
	got, err := compareValues(s.pc, a, imm, CompareLess)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

func opLeI(s *State, i Instruction) error {
	a, imm, err := immediateCompare(s, i)
	if err != nil {
		return err
	}
	got, err := compareValues(s.pc, a, imm, CompareLessOrEqual)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

func opGtI(s *State, i Instruction) error {
	a, imm, err := immediateCompare(s, i)
	if err != nil {
		return err
	}
	got, err := compareValues(s.pc, imm, a, CompareLess)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

func opGeI(s *State, i Instruction) error {
	a, imm, err := immediateCompare(s, i)
	if err != nil {
		return err
	}
	got, err := compareValues(s.pc, imm, a, CompareLessOrEqual)
	if err != nil {
		return err
	}
	skipIf(s, got, i.K())
	return nil
}

// opReturn is RETURN A B: halts the running State, recording
// R(A)..R(A+B-2) (or R(A)..top, if B==0) as the result list.
func opReturn(s *State, i Instruction) error {
	a, b := i.A(), i.B()
	n := b - 1
	if b == 0 {
		n = s.GetTop() - a
	}
	if n < 0 {
		return &StackError{PC: s.pc, Op: "RETURN", Reason: "negative result count"}
	}
	results := make([]value.Value, n)
	for k := 0; k < n; k++ {
		v, err := s.GetReg(a + k)
		if err != nil {
			return err
		}
		results[k] = v
	}
	s.results = results
	s.halted = true
	return nil
}

// forNumbers extracts the (init, limit, step) triple for a numeric
// for loop, converting all three with ToInteger (a Number is rounded,
// a numeric string is parsed), so the loop always counts in Integers;
// float for-loops are not supported.
func forNumbers(s *State, a int) (init, limit, step int64, err error) {
	iv, err := s.GetReg(a)
	if err != nil {
		return 0, 0, 0, err
	}
	lv, err := s.GetReg(a + 1)
	if err != nil {
		return 0, 0, 0, err
	}
	sv, err := s.GetReg(a + 2)
	if err != nil {
		return 0, 0, 0, err
	}
	i64, ok := iv.ToInteger()
	if !ok {
		return 0, 0, 0, &TypeError{PC: s.pc, Op: "FOR", Reason: "'for' initial value must be a number"}
	}
	l64, ok := lv.ToInteger()
	if !ok {
		return 0, 0, 0, &TypeError{PC: s.pc, Op: "FOR", Reason: "'for' limit must be a number"}
	}
	st64, ok := sv.ToInteger()
	if !ok {
		return 0, 0, 0, &TypeError{PC: s.pc, Op: "FOR", Reason: "'for' step must be a number"}
	}
	if st64 == 0 {
		return 0, 0, 0, &TypeError{PC: s.pc, Op: "FOR", Reason: "'for' step is zero"}
	}
	return i64, l64, st64, nil
}

// opForPrep is FORPREP A Bx: validates the loop triple at R(A..A+2)
// and, if the loop body would never run, jumps past the matching
// FORLOOP (pc += Bx + 1). Otherwise it seeds the external loop
// variable R(A+3) and falls through to the body.
func opForPrep(s *State, i Instruction) error {
	a := i.A()
	init, limit, step, err := forNumbers(s, a)
	if err != nil {
		return err
	}
	skip := (step > 0 && init > limit) || (step < 0 && init < limit)
	if skip {
		s.AddPC(i.Bx() + 1)
		return nil
	}
	if err := s.SetReg(a, value.Int(init)); err != nil {
		return err
	}
	return s.SetReg(a+3, value.Int(init))
}

// opForLoop is FORLOOP A Bx: advances the counter at R(A) by the step
// at R(A+2); if it is still within the limit at R(A+1), updates the
// external variable R(A+3) and jumps back (pc -= Bx) to repeat the
// body, otherwise falls through.
func opForLoop(s *State, i Instruction) error {
	a := i.A()
	counter, err := s.GetReg(a)
	if err != nil {
		return err
	}
	limitV, err := s.GetReg(a + 1)
	if err != nil {
		return err
	}
	stepV, err := s.GetReg(a + 2)
	if err != nil {
		return err
	}
	ci, ok := counter.ToInteger()
	if !ok {
		return &TypeError{PC: s.pc, Op: "FORLOOP", Reason: "loop counter is not an integer"}
	}
	limit, _ := limitV.ToInteger()
	step, _ := stepV.ToInteger()
	next := ci + step
	continues := (step > 0 && next <= limit) || (step < 0 && next >= limit)
	if !continues {
		return nil
	}
	if err := s.SetReg(a, value.Int(next)); err != nil {
		return err
	}
	if err := s.SetReg(a+3, value.Int(next)); err != nil {
		return err
	}
	s.AddPC(-i.Bx())
	return nil
}

// opVarargPrep is VARARGPREP: in the reference VM it adjusts the
// stack so that fixed parameters sit below the frame base and any
// extra arguments become the function's varargs. Every compiled main
// chunk opens with this instruction, since a main chunk is itself a
// vararg function. This VM runs a single fixed-size register window
// with no caller-supplied argument list, so there are no extra
// arguments to relocate; A names the declared fixed-parameter count
// and is accepted but otherwise unused.
func opVarargPrep(s *State, i Instruction) error {
	return nil
}
