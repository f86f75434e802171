package vm

import (
	"fmt"

	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/stack"
	"github.com/speedata/go-lua54vm/value"
)

// constMargin is the extra slack reserved above max_stack_size, per
// spec.md §3 ("the reference implementation uses 8").
const constMargin = 8

// State owns one Stack, the current Prototype, and a program counter.
// It is strictly single-threaded and non-suspending: handlers run to
// completion and receive it exclusively. Multiple independent States
// may run concurrently in separate goroutines provided they never
// share a Stack or Prototype (spec.md §5).
type State struct {
	stack   *stack.Stack
	proto   *chunk.Prototype
	pc      int
	halted  bool
	results []value.Value
	depth   int
}

// Depth returns the diagnostic call-stack depth. It is never touched
// by an opcode handler (this VM has no call frames) or by Run; the
// CLI's run command calls IncDepth once before executing, purely to
// annotate its log output.
func (s *State) Depth() int { return s.depth }

// IncDepth increments the diagnostic depth counter.
func (s *State) IncDepth() { s.depth++ }

// DecDepth decrements the diagnostic depth counter.
func (s *State) DecDepth() { s.depth-- }

// Halted reports whether a RETURN instruction has run.
func (s *State) Halted() bool { return s.halted }

// Results returns the values recorded by RETURN; valid only once
// Halted() is true.
func (s *State) Results() []value.Value { return s.results }

// NewState builds a State whose stack is pre-sized to
// max_stack_size + constMargin, per spec.md §3.
func NewState(p *chunk.Prototype) *State {
	return &State{
		stack: stack.New(p.MaxStackSize + constMargin),
		proto: p,
	}
}

// Prototype returns the current function's Prototype.
func (s *State) Prototype() *chunk.Prototype { return s.proto }

// --- VM API ---

// PC returns the program counter (an index into Prototype.Code).
func (s *State) PC() int { return s.pc }

// AddPC advances the program counter by delta, which may be negative.
func (s *State) AddPC(delta int) { s.pc += delta }

// Fetch reads the instruction at pc and advances pc.
func (s *State) Fetch() (Instruction, error) {
	if s.pc < 0 || s.pc >= len(s.proto.Code) {
		return 0, &OpcodeError{PC: s.pc, Op: "FETCH", Reason: "program counter out of range"}
	}
	i := Instruction(s.proto.Code[s.pc])
	s.pc++
	return i, nil
}

// GetConst pushes the k-th constant of the current Prototype.
func (s *State) GetConst(k int) error {
	if k < 0 || k >= len(s.proto.Constants) {
		return &OpcodeError{PC: s.pc, Op: "K", Reason: fmt.Sprintf("constant index %d out of range", k)}
	}
	return s.Push(s.proto.Constants[k])
}

// constantBit is the high bit of an RK operand that selects a
// constant instead of a register, per the glossary's RK operand.
const constantBit = 1 << 8

// GetRK pushes either K(rk & ^constantBit), if the high bit of rk is
// set, or the register value at rk otherwise.
func (s *State) GetRK(rk int) error {
	if rk&constantBit != 0 {
		return s.GetConst(rk &^ constantBit)
	}
	return s.PushReg(rk)
}

// --- register access (frame base is always 0: no call frames) ---

// GetReg returns R(i).
func (s *State) GetReg(i int) (value.Value, error) {
	v, err := s.stack.Get(i)
	if err != nil {
		return value.Nil, &StackError{PC: s.pc, Op: "R", Reason: err.Error()}
	}
	return v, nil
}

// SetReg stores v into R(i).
func (s *State) SetReg(i int, v value.Value) error {
	if err := s.stack.Set(i, v); err != nil {
		return &StackError{PC: s.pc, Op: "R", Reason: err.Error()}
	}
	return nil
}

// PushReg pushes a copy of R(i) onto the top of the stack.
func (s *State) PushReg(i int) error {
	v, err := s.GetReg(i)
	if err != nil {
		return err
	}
	return s.Push(v)
}

// --- Host API ---

// GetTop returns the current stack top.
func (s *State) GetTop() int { return s.stack.Top() }

// SetTop adjusts the stack top directly, used to reserve the register
// window before the fetch loop starts.
func (s *State) SetTop(n int) { s.stack.SetTop(n) }

// CheckStack ensures n free slots above top.
func (s *State) CheckStack(n int) { s.stack.Check(n) }

func (s *State) Push(v value.Value) error {
	if err := s.stack.Push(v); err != nil {
		return &StackError{PC: s.pc, Op: "PUSH", Reason: err.Error()}
	}
	return nil
}

func (s *State) PushNil() error              { return s.Push(value.Nil) }
func (s *State) PushInteger(i int64) error   { return s.Push(value.Int(i)) }
func (s *State) PushNumber(n float64) error  { return s.Push(value.Float(n)) }
func (s *State) PushBoolean(b bool) error    { return s.Push(value.Bool(b)) }
func (s *State) PushString(str string) error { return s.Push(value.Str(str)) }

// PushValue pushes a copy of the value at index.
func (s *State) PushValue(index int) error {
	v, err := s.stack.Get(index)
	if err != nil {
		return &StackError{PC: s.pc, Op: "PUSHVALUE", Reason: err.Error()}
	}
	return s.Push(v)
}

// Pop removes n values from the top of the stack.
func (s *State) Pop(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.stack.Pop(); err != nil {
			return &StackError{PC: s.pc, Op: "POP", Reason: err.Error()}
		}
	}
	return nil
}

// Copy copies the value at from to the slot at to, without touching top.
func (s *State) Copy(from, to int) error {
	v, err := s.stack.Get(from)
	if err != nil {
		return &StackError{PC: s.pc, Op: "COPY", Reason: err.Error()}
	}
	if err := s.stack.Set(to, v); err != nil {
		return &StackError{PC: s.pc, Op: "COPY", Reason: err.Error()}
	}
	return nil
}

// Replace pops the top value and stores it at index.
func (s *State) Replace(index int) error {
	v, err := s.stack.Pop()
	if err != nil {
		return &StackError{PC: s.pc, Op: "REPLACE", Reason: err.Error()}
	}
	if err := s.stack.Set(index, v); err != nil {
		return &StackError{PC: s.pc, Op: "REPLACE", Reason: err.Error()}
	}
	return nil
}

// Rotate performs a ring rotation of [abs(index), top) by n positions.
func (s *State) Rotate(index, n int) error {
	if err := s.stack.Rotate(index, n); err != nil {
		return &StackError{PC: s.pc, Op: "ROTATE", Reason: err.Error()}
	}
	return nil
}

// Insert is Rotate(index, 1).
func (s *State) Insert(index int) error { return s.Rotate(index, 1) }

func (s *State) IsNumber(index int) bool {
	v, err := s.stack.Get(index)
	return err == nil && v.IsNumber()
}

func (s *State) IsInteger(index int) bool {
	v, err := s.stack.Get(index)
	return err == nil && v.IsInteger()
}

func (s *State) IsString(index int) bool {
	v, err := s.stack.Get(index)
	return err == nil && v.IsString()
}

func (s *State) ToNumber(index int) (float64, bool) {
	v, err := s.stack.Get(index)
	if err != nil {
		return 0, false
	}
	return v.ToNumber()
}

func (s *State) ToInteger(index int) (int64, bool) {
	v, err := s.stack.Get(index)
	if err != nil {
		return 0, false
	}
	return v.ToInteger()
}

func (s *State) ToString(index int) (string, bool) {
	v, err := s.stack.Get(index)
	if err != nil || !v.IsString() {
		return "", false
	}
	return v.Str(), true
}

// Len pushes the length (per value.Len: strings only) of the value at
// index.
func (s *State) Len(index int) error {
	v, err := s.stack.Get(index)
	if err != nil {
		return &StackError{PC: s.pc, Op: "LEN", Reason: err.Error()}
	}
	n, ok := value.Len(v)
	if !ok {
		return &TypeError{PC: s.pc, Op: "LEN", Reason: fmt.Sprintf("attempt to get length of a %s value", v.Kind())}
	}
	return s.Push(value.Int(n))
}

// Concat pops n values and pushes their left-to-right string
// concatenation (strings only, per value.Concat).
func (s *State) Concat(n int) error {
	if n == 0 {
		return s.Push(value.Str(""))
	}
	vals := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := s.stack.Pop()
		if err != nil {
			return &StackError{PC: s.pc, Op: "CONCAT", Reason: err.Error()}
		}
		vals[i] = v
	}
	result := vals[0]
	for _, v := range vals[1:] {
		joined, ok := value.Concat(result, v)
		if !ok {
			return &TypeError{PC: s.pc, Op: "CONCAT", Reason: "attempt to concatenate a non-string value"}
		}
		result = joined
	}
	return s.Push(result)
}

// CompareOp identifies which relational test Compare performs.
type CompareOp int

const (
	CompareEqual CompareOp = iota
	CompareLess
	CompareLessOrEqual
)

// Compare tests R(i1) against R(i2) using op.
func (s *State) Compare(i1, i2 int, op CompareOp) (bool, error) {
	a, err := s.stack.Get(i1)
	if err != nil {
		return false, &StackError{PC: s.pc, Op: "COMPARE", Reason: err.Error()}
	}
	b, err := s.stack.Get(i2)
	if err != nil {
		return false, &StackError{PC: s.pc, Op: "COMPARE", Reason: err.Error()}
	}
	return compareValues(s.pc, a, b, op)
}

func compareValues(pc int, a, b value.Value, op CompareOp) (bool, error) {
	if op == CompareEqual {
		return a.Equal(b), nil
	}
	if !value.Comparable(a, b) {
		return false, &TypeError{PC: pc, Op: "COMPARE", Reason: fmt.Sprintf("attempt to compare %s with %s", a.Kind(), b.Kind())}
	}
	if op == CompareLess {
		return value.Less(a, b), nil
	}
	return value.LessOrEqual(a, b), nil
}
