package vm

import (
	"bytes"
	"os"
	"testing"

	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/value"
)

func proto(maxStack int, code []Instruction, constants []value.Value) *chunk.Prototype {
	words := make([]uint32, len(code))
	for i, ins := range code {
		words[i] = uint32(ins)
	}
	return &chunk.Prototype{
		Source:       "test.lua",
		MaxStackSize: maxStack,
		Code:         words,
		Constants:    constants,
	}
}

// TestRunLoadNilReturn runs the bytecode a genuine luac main chunk
// would emit for an empty script: VARARGPREP opens every main chunk,
// then LOADNIL clears register 0, then RETURN (with B=1) returns no
// values. It checks register 0 directly rather than the return list,
// since RETURN 1 1 1 returns zero results.
func TestRunLoadNilReturn(t *testing.T) {
	p := proto(1, []Instruction{
		EncodeABC(OpVarargPrep, 0, false, 0, 0),
		EncodeABC(OpLoadNil, 0, false, 0, 0),
		EncodeABC(OpReturn, 1, false, 1, 1),
	}, nil)
	s := NewState(p)
	s.CheckStack(p.MaxStackSize)
	s.SetTop(p.MaxStackSize)
	if err := Exec(s); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if s.PC() != 3 {
		t.Errorf("pc = %d; want 3 (advanced past all three instructions)", s.PC())
	}
	v, err := s.GetReg(0)
	if err != nil {
		t.Fatalf("GetReg(0) error: %v", err)
	}
	if !v.IsNil() {
		t.Errorf("register 0 = %v; want nil", v)
	}
	if results := s.Results(); len(results) != 0 {
		t.Errorf("results = %v; want none (RETURN 1 1 1 returns zero values)", results)
	}
}

func TestRunIntegerAdd(t *testing.T) {
	p := proto(3, []Instruction{
		EncodeAsBx(OpLoadI, 0, 2),
		EncodeAsBx(OpLoadI, 1, 3),
		EncodeABC(OpAdd, 2, false, 0, 1),
		EncodeABC(OpReturn, 2, false, 2, 0),
	}, nil)
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 1 || !results[0].IsInteger() || results[0].Int() != 5 {
		t.Errorf("results = %v; want [Integer 5]", results)
	}
}

func TestRunFloatAdd(t *testing.T) {
	p := proto(3, []Instruction{
		EncodeABx(OpLoadK, 0, 0),
		EncodeABx(OpLoadK, 1, 1),
		EncodeABC(OpAdd, 2, false, 0, 1),
		EncodeABC(OpReturn, 2, false, 2, 0),
	}, []value.Value{value.Float(1.5), value.Float(2.5)})
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 1 || !results[0].IsFloat() || results[0].Float() != 4.0 {
		t.Errorf("results = %v; want [Number 4.0]", results)
	}
}

func TestRunStringLength(t *testing.T) {
	p := proto(2, []Instruction{
		EncodeABx(OpLoadK, 0, 0),
		EncodeABC(OpLen, 1, false, 0, 0),
		EncodeABC(OpReturn, 1, false, 2, 0),
	}, []value.Value{value.Str("hello")})
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 1 || results[0].Int() != 5 {
		t.Errorf("results = %v; want [Integer 5]", results)
	}
}

func TestRunStringConcat(t *testing.T) {
	p := proto(2, []Instruction{
		EncodeABx(OpLoadK, 0, 0),
		EncodeABx(OpLoadK, 1, 1),
		EncodeABC(OpConcat, 0, false, 0, 2),
		EncodeABC(OpReturn, 0, false, 2, 0),
	}, []value.Value{value.Str("foo"), value.Str("bar")})
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 1 || results[0].Str() != "foobar" {
		t.Errorf("results = %v; want [String foobar]", results)
	}
}

// TestRunSumOfMultiplesOfThree builds, by hand, the equivalent of:
//
//	sum = 0
//	for i = 1, 9 do
//	  if i % 3 == 0 then sum = sum + i end
//	end
//	return sum
//
// exercising FORPREP/FORLOOP, MODK, and EQI together.
func TestRunSumOfMultiplesOfThree(t *testing.T) {
	code := []Instruction{
		EncodeAsBx(OpLoadI, 0, 1),                    // 0: R0 = 1 (init)
		EncodeAsBx(OpLoadI, 1, 9),                    // 1: R1 = 9 (limit)
		EncodeAsBx(OpLoadI, 2, 1),                    // 2: R2 = 1 (step)
		EncodeAsBx(OpLoadI, 4, 0),                    // 3: R4 = 0 (sum)
		EncodeABx(OpForPrep, 0, 3),                   // 4: skip to idx 9 if the loop never runs
		EncodeABC(OpModK, 5, false, 3, 0),             // 5: R5 = R3 % K0(3)
		EncodeABC(OpEqI, 5, true, immediateBias, 0),   // 6: if R5 != 0, skip the ADD
		EncodeABC(OpAdd, 4, false, 4, 3),              // 7: R4 = R4 + R3
		EncodeABx(OpForLoop, 0, 4),                    // 8: advance, loop back to idx 5
		EncodeABC(OpReturn, 4, false, 2, 0),           // 9: return R4
	}
	p := proto(6, code, []value.Value{value.Int(3)})
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(results) != 1 || results[0].Int() != 18 {
		t.Errorf("sum of multiples of 3 in [1,9] = %v; want 18", results)
	}
}

func TestRunStackErrorOnBadRegister(t *testing.T) {
	p := proto(1, []Instruction{
		EncodeABC(OpMove, 0, false, 5, 0),
		EncodeABC(OpReturn, 0, false, 2, 0),
	}, nil)
	if _, err := Run(p); err == nil {
		t.Error("Run() with an out-of-range register should fail")
	}
}

func TestRunUnimplementedOpcodeFails(t *testing.T) {
	p := proto(1, []Instruction{
		EncodeABC(OpNewTable, 0, false, 0, 0),
		EncodeABC(OpReturn, 0, false, 1, 0),
	}, nil)
	_, err := Run(p)
	if err == nil {
		t.Fatal("Run() on a stub opcode should fail")
	}
	if _, ok := err.(*OpcodeError); !ok {
		t.Errorf("error type = %T; want *OpcodeError", err)
	}
}

// TestRunGoldenFixtures loads the checked-in .luac fixtures and runs
// them end to end, confirming the reader and the interpreter agree on
// the bytecode's meaning.
func TestRunGoldenFixtures(t *testing.T) {
	raw, err := os.ReadFile("../chunk/testdata/integer_return.luac")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	p, err := chunk.Load(bytes.NewReader(raw), "fallback")
	if err != nil {
		t.Fatalf("chunk.Load error: %v", err)
	}
	results, err := Run(p)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 1 || !results[0].IsInteger() || results[0].Int() != 5 {
		t.Errorf("integer_return results = %v; want [Integer 5]", results)
	}

	raw, err = os.ReadFile("../chunk/testdata/string_concat.luac")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	p, err = chunk.Load(bytes.NewReader(raw), "fallback")
	if err != nil {
		t.Fatalf("chunk.Load error: %v", err)
	}
	results, err = Run(p)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 1 || !results[0].IsString() || results[0].Str() != "hello world" {
		t.Errorf("string_concat results = %v; want [String hello world]", results)
	}
}
