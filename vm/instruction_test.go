package vm

import "testing"

func TestInstructionABCRoundTrip(t *testing.T) {
	i := EncodeABC(OpAdd, 10, true, 20, 30)
	if i.OpCode() != OpAdd {
		t.Errorf("OpCode() = %v; want OpAdd", i.OpCode())
	}
	if i.A() != 10 {
		t.Errorf("A() = %d; want 10", i.A())
	}
	if !i.K() {
		t.Error("K() = false; want true")
	}
	if i.B() != 20 {
		t.Errorf("B() = %d; want 20", i.B())
	}
	if i.C() != 30 {
		t.Errorf("C() = %d; want 30", i.C())
	}
}

func TestInstructionABxRoundTrip(t *testing.T) {
	i := EncodeABx(OpLoadK, 5, 1000)
	if i.A() != 5 {
		t.Errorf("A() = %d; want 5", i.A())
	}
	if i.Bx() != 1000 {
		t.Errorf("Bx() = %d; want 1000", i.Bx())
	}
}

func TestInstructionAsBxRoundTrip(t *testing.T) {
	for _, sbx := range []int{0, 1, -1, 12345, -12345} {
		i := EncodeAsBx(OpLoadI, 3, sbx)
		if got := i.SBx(); got != sbx {
			t.Errorf("SBx() = %d; want %d", got, sbx)
		}
	}
}

func TestInstructionAxRoundTrip(t *testing.T) {
	i := EncodeAx(OpExtraArg, 1<<20)
	if i.Ax() != 1<<20 {
		t.Errorf("Ax() = %d; want %d", i.Ax(), 1<<20)
	}
}

func TestInstructionSJRoundTrip(t *testing.T) {
	for _, sj := range []int{0, 1, -1, 1000, -1000} {
		i := EncodeSJ(OpJump, sj)
		if got := i.SJ(); got != sj {
			t.Errorf("SJ() = %d; want %d", got, sj)
		}
	}
}

func TestOpCodeNumericOrder(t *testing.T) {
	// The numeric assignment must match the reference lopcodes.h
	// ordering exactly: MOVE is 0 and RETURN is its canonical slot.
	if OpMove != 0 {
		t.Errorf("OpMove = %d; want 0", OpMove)
	}
	if OpReturn != 70 {
		t.Errorf("OpReturn = %d; want 70", OpReturn)
	}
	if OpReturn.Name() != "RETURN" {
		t.Errorf("OpReturn.Name() = %q; want RETURN", OpReturn.Name())
	}
}
