package vm

import (
	"fmt"
	"math"

	"github.com/speedata/go-lua54vm/value"
)

// arithOp is one binary arithmetic opcode's pair of int64/float64
// kernels, dispatched per spec.md §4.E's four-step rule:
//
//  1. both operands Integer -> intOp, result is Integer
//  2. either operand Number, both convertible via ToNumber -> floatOp,
//     result is Number
//  3. POW and DIV always take the float path even on two Integers
//  4. anything else is a TypeError
type arithOp struct {
	name    string
	intOp   func(a, b int64) (int64, error)
	floatOp func(a, b float64) float64
	// floatOnly forces the float path even when both operands are
	// Integer (POW, DIV).
	floatOnly bool
	// bitwise routes non-integer operands through ToInteger rather
	// than ToNumber, and never takes the float path at all.
	bitwise bool
}

func divideByZero(name string) error { return fmt.Errorf("attempt to perform %q on zero", name) }

var opAdd = arithOp{name: "ADD", intOp: func(a, b int64) (int64, error) { return a + b, nil }, floatOp: func(a, b float64) float64 { return a + b }}
var opSub = arithOp{name: "SUB", intOp: func(a, b int64) (int64, error) { return a - b, nil }, floatOp: func(a, b float64) float64 { return a - b }}
var opMul = arithOp{name: "MUL", intOp: func(a, b int64) (int64, error) { return a * b, nil }, floatOp: func(a, b float64) float64 { return a * b }}
var opMod = arithOp{name: "MOD", intOp: func(a, b int64) (int64, error) {
	if b == 0 {
		return 0, divideByZero("MOD")
	}
	m := a % b
	if m != 0 && (m^b) < 0 {
		m += b
	}
	return m, nil
}, floatOp: func(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}}
var opPow = arithOp{name: "POW", floatOp: func(a, b float64) float64 { return math.Pow(a, b) }, floatOnly: true}
var opDiv = arithOp{name: "DIV", floatOp: func(a, b float64) float64 { return a / b }, floatOnly: true}
var opIDiv = arithOp{name: "IDIV", intOp: func(a, b int64) (int64, error) {
	if b == 0 {
		return 0, divideByZero("IDIV")
	}
	q := a / b
	if (a%b != 0) && ((a ^ b) < 0) {
		q--
	}
	return q, nil
}, floatOp: func(a, b float64) float64 { return math.Floor(a / b) }}
var opBAnd = arithOp{name: "BAND", intOp: func(a, b int64) (int64, error) { return a & b, nil }, bitwise: true}
var opBOr = arithOp{name: "BOR", intOp: func(a, b int64) (int64, error) { return a | b, nil }, bitwise: true}
var opBXor = arithOp{name: "BXOR", intOp: func(a, b int64) (int64, error) { return a ^ b, nil }, bitwise: true}
var opShl = arithOp{name: "SHL", intOp: func(a, b int64) (int64, error) { return shiftLeft(a, b), nil }, bitwise: true}
var opShr = arithOp{name: "SHR", intOp: func(a, b int64) (int64, error) { return shiftLeft(a, -b), nil }, bitwise: true}

// shiftLeft implements Lua's bitwise shift: a shift count at or beyond
// the operand width yields 0, and a negative count shifts the other
// way, matching real Lua's luaV_shiftl.
func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

// dispatch runs the four-step arithmetic rule over two already-fetched
// Values, producing the result Value or a TypeError.
func (op arithOp) dispatch(pc int, a, b value.Value) (value.Value, error) {
	if !op.floatOnly && a.IsInteger() && b.IsInteger() {
		r, err := op.intOp(a.Int(), b.Int())
		if err != nil {
			return value.Nil, &TypeError{PC: pc, Op: op.name, Reason: err.Error()}
		}
		return value.Int(r), nil
	}
	if op.bitwise {
		if !a.IsNumber() || !b.IsNumber() {
			return value.Nil, &TypeError{PC: pc, Op: op.name, Reason: fmt.Sprintf("attempt to perform bitwise operation on a %s value", mismatchKind(a, b))}
		}
		ai, aok := a.ToInteger()
		bi, bok := b.ToInteger()
		if !aok || !bok {
			return value.Nil, &TypeError{PC: pc, Op: op.name, Reason: "number has no integer representation"}
		}
		r, err := op.intOp(ai, bi)
		if err != nil {
			return value.Nil, &TypeError{PC: pc, Op: op.name, Reason: err.Error()}
		}
		return value.Int(r), nil
	}
	af, aok := a.ToNumber()
	bf, bok := b.ToNumber()
	if !aok || !bok {
		return value.Nil, &TypeError{PC: pc, Op: op.name, Reason: fmt.Sprintf("attempt to perform arithmetic on a %s value", mismatchKind(a, b))}
	}
	return value.Float(op.floatOp(af, bf)), nil
}

func mismatchKind(a, b value.Value) value.Kind {
	if !a.IsNumber() {
		return a.Kind()
	}
	return b.Kind()
}

// arithHandler builds a handlerFunc for the register-register form
// (ADD/SUB/.../SHR): R(A) := R(B) op R(C).
func arithHandler(op arithOp) handlerFunc {
	return func(s *State, i Instruction) error {
		b, err := s.GetReg(i.B())
		if err != nil {
			return err
		}
		c, err := s.GetReg(i.C())
		if err != nil {
			return err
		}
		r, err := op.dispatch(s.pc, b, c)
		if err != nil {
			return err
		}
		return s.SetReg(i.A(), r)
	}
}

// arithKHandler builds a handlerFunc for the register-constant form
// (ADDK/SUBK/.../BXORK): R(A) := R(B) op K(C).
func arithKHandler(op arithOp) handlerFunc {
	return func(s *State, i Instruction) error {
		b, err := s.GetReg(i.B())
		if err != nil {
			return err
		}
		if i.C() < 0 || i.C() >= len(s.proto.Constants) {
			return &OpcodeError{PC: s.pc, Op: op.name + "K", Reason: "constant index out of range"}
		}
		c := s.proto.Constants[i.C()]
		r, err := op.dispatch(s.pc, b, c)
		if err != nil {
			return err
		}
		return s.SetReg(i.A(), r)
	}
}

// opAddI is ADDI: R(A) := R(B) + sC, sC an immediate signed byte.
func opAddI(s *State, i Instruction) error {
	b, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	imm := int64(i.C() - immediateBias)
	r, err := opAdd.dispatch(s.pc, b, value.Int(imm))
	if err != nil {
		return err
	}
	return s.SetReg(i.A(), r)
}

// opShrI is SHRI: R(A) := R(B) >> sC (integer only, immediate operand).
func opShrI(s *State, i Instruction) error {
	return shiftImmediate(s, i, true)
}

// opShlI is SHLI: R(A) := sC << R(B) (integer only, immediate operand).
func opShlI(s *State, i Instruction) error {
	return shiftImmediate(s, i, false)
}

func shiftImmediate(s *State, i Instruction, rightShift bool) error {
	b, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	if !b.IsInteger() {
		bi, ok := b.ToInteger()
		if !ok {
			return &TypeError{PC: s.pc, Op: "SHIFT", Reason: "number has no integer representation"}
		}
		b = value.Int(bi)
	}
	imm := int64(i.C() - immediateBias)
	var r int64
	if rightShift {
		r = shiftLeft(b.Int(), -imm)
	} else {
		r = shiftLeft(imm, b.Int())
	}
	return s.SetReg(i.A(), value.Int(r))
}

// opUnm is UNM: R(A) := -R(B).
func opUnm(s *State, i Instruction) error {
	b, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	switch {
	case b.IsInteger():
		return s.SetReg(i.A(), value.Int(-b.Int()))
	case b.IsFloat():
		return s.SetReg(i.A(), value.Float(-b.Float()))
	}
	if f, ok := b.ToNumber(); ok {
		return s.SetReg(i.A(), value.Float(-f))
	}
	return &TypeError{PC: s.pc, Op: "UNM", Reason: fmt.Sprintf("attempt to perform arithmetic on a %s value", b.Kind())}
}

// opBNot is BNOT: R(A) := ^R(B) (bitwise complement).
func opBNot(s *State, i Instruction) error {
	b, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	bi, ok := b.ToInteger()
	if !ok {
		return &TypeError{PC: s.pc, Op: "BNOT", Reason: fmt.Sprintf("attempt to perform bitwise operation on a %s value", b.Kind())}
	}
	return s.SetReg(i.A(), value.Int(^bi))
}

// opLen is LEN: R(A) := #R(B) (string length only).
func opLen(s *State, i Instruction) error {
	b, err := s.GetReg(i.B())
	if err != nil {
		return err
	}
	n, ok := value.Len(b)
	if !ok {
		return &TypeError{PC: s.pc, Op: "LEN", Reason: fmt.Sprintf("attempt to get length of a %s value", b.Kind())}
	}
	return s.SetReg(i.A(), value.Int(n))
}

// opConcat is CONCAT: R(A) := R(A) .. R(A+1) .. ... .. R(A+C-1).
func opConcat(s *State, i Instruction) error {
	a, n := i.A(), i.C()
	if n == 0 {
		return s.SetReg(a, value.Str(""))
	}
	result, err := s.GetReg(a)
	if err != nil {
		return err
	}
	if !result.IsString() {
		return &TypeError{PC: s.pc, Op: "CONCAT", Reason: fmt.Sprintf("attempt to concatenate a %s value", result.Kind())}
	}
	for k := 1; k < n; k++ {
		next, err := s.GetReg(a + k)
		if err != nil {
			return err
		}
		joined, ok := value.Concat(result, next)
		if !ok {
			return &TypeError{PC: s.pc, Op: "CONCAT", Reason: fmt.Sprintf("attempt to concatenate a %s value", next.Kind())}
		}
		result = joined
	}
	return s.SetReg(a, result)
}
