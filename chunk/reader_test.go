package chunk

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speedata/go-lua54vm/value"
)

// --- test-only encoder mirroring the spec's format, used to build
// synthetic .luac byte streams for round-trip tests. ---

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) header() {
	e.buf.WriteString(Signature)
	e.buf.WriteByte(luacVersion)
	e.buf.WriteByte(luacFormat)
	e.buf.Write(luacData[:])
	e.buf.WriteByte(instructionSize)
	e.buf.WriteByte(integerSize)
	e.buf.WriteByte(numberSize)
	e.int64(luacIntTest)
	e.float64(luacNumTest)
}

func (e *encoder) byte(b byte)     { e.buf.WriteByte(b) }
func (e *encoder) bool(b bool)     { if b { e.byte(1) } else { e.byte(0) } }
func (e *encoder) int32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	e.buf.Write(buf[:])
}
func (e *encoder) int64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	e.buf.Write(buf[:])
}
func (e *encoder) float64(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	e.buf.Write(buf[:])
}
func (e *encoder) varint(x uint64) {
	var stack []byte
	stack = append(stack, byte(x&0x7f))
	x >>= 7
	for x != 0 {
		stack = append(stack, byte(x&0x7f))
		x >>= 7
	}
	// emit most-significant group first, mark the LAST emitted (least
	// significant, original first) group's high bit.
	for i := len(stack) - 1; i > 0; i-- {
		e.byte(stack[i])
	}
	e.byte(stack[0] | 0x80)
}
func (e *encoder) str(s string) {
	if s == "" {
		e.varint(0)
		return
	}
	e.varint(uint64(len(s) + 1))
	e.buf.WriteString(s)
}
func (e *encoder) emptyVec()      { e.varint(0) }
func (e *encoder) code(ops []uint32) {
	e.varint(uint64(len(ops)))
	for _, op := range ops {
		e.int32(int32(op))
	}
}
func (e *encoder) constants(cs []value.Value) {
	e.varint(uint64(len(cs)))
	for _, c := range cs {
		switch c.Kind() {
		case value.KindNil:
			e.byte(tagNil)
		case value.KindBoolean:
			if c.Bool() {
				e.byte(tagTrue)
			} else {
				e.byte(tagFalse)
			}
		case value.KindInteger:
			e.byte(tagInteger)
			e.int64(c.Int())
		case value.KindNumber:
			e.byte(tagFloat)
			e.float64(c.Float())
		case value.KindString:
			e.byte(tagShortStr)
			e.str(c.Str())
		}
	}
}

func (e *encoder) mainFunction(source string, maxStack int, code []uint32, constants []value.Value) {
	e.str(source)
	e.varint(0) // lineDefined
	e.varint(0) // lastLineDefined
	e.byte(0)   // paramCount
	e.bool(false)
	e.byte(byte(maxStack))
	e.code(code)
	e.constants(constants)
	e.emptyVec() // upvalues
	e.emptyVec() // prototypes
	e.emptyVec() // lineInfoDeltas
	e.emptyVec() // absLineInfo
	e.emptyVec() // localVariables
	e.emptyVec() // upvalueNames (its own vector-length prefix)
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func buildChunk(t *testing.T, source string, maxStack int, code []uint32, constants []value.Value) []byte {
	t.Helper()
	e := &encoder{}
	e.header()
	e.byte(0) // reserved upvalue size for main closure
	e.mainFunction(source, maxStack, code, constants)
	return e.bytes()
}

func TestHeaderRoundTrip(t *testing.T) {
	e := &encoder{}
	e.header()
	rd := newReader(bytes.NewReader(e.bytes()))
	if err := rd.checkHeader(); err != nil {
		t.Fatalf("checkHeader() = %v; want nil", err)
	}
	if rd.index != len(e.bytes()) {
		t.Errorf("reader.index = %d; want %d (consumed exactly the header)", rd.index, len(e.bytes()))
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", string(make([]byte, 300))} {
		e := &encoder{}
		e.str(s)
		rd := newReader(bytes.NewReader(e.bytes()))
		got, err := rd.readString()
		if err != nil {
			t.Fatalf("readString(%q) error: %v", s, err)
		}
		if got != s {
			t.Errorf("readString round-trip = %q; want %q", got, s)
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<56 - 1}
	for _, x := range values {
		e := &encoder{}
		e.varint(x)
		rd := newReader(bytes.NewReader(e.bytes()))
		got, err := rd.readVarint()
		if err != nil {
			t.Fatalf("readVarint(%d) error: %v", x, err)
		}
		if got != x {
			t.Errorf("readVarint round-trip = %d; want %d", got, x)
		}
	}
}

func TestVarintEmptyInputFails(t *testing.T) {
	rd := newReader(bytes.NewReader(nil))
	if _, err := rd.readVarint(); err == nil {
		t.Error("readVarint on empty input should fail")
	}
}

func TestLoadBadMagic(t *testing.T) {
	buf := []byte("NOTLUA\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	if _, err := Load(bytes.NewReader(buf), "chunk"); err == nil {
		t.Error("Load with bad magic should fail")
	} else if _, ok := err.(*LoadError); !ok {
		t.Errorf("error type = %T; want *LoadError", err)
	}
}

func TestLoadMinimalChunk(t *testing.T) {
	raw := buildChunk(t, "main.lua", 3, []uint32{0, 1, 2}, []value.Value{value.Int(42), value.Str("hi")})
	p, err := Load(bytes.NewReader(raw), "fallback")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p.Source != "main.lua" {
		t.Errorf("Source = %q; want main.lua", p.Source)
	}
	if p.MaxStackSize != 3 {
		t.Errorf("MaxStackSize = %d; want 3", p.MaxStackSize)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, p.Code); diff != "" {
		t.Errorf("Code mismatch (-want +got):\n%s", diff)
	}
	if len(p.Constants) != 2 || p.Constants[0].Int() != 42 || p.Constants[1].Str() != "hi" {
		t.Errorf("Constants = %v; want [42 hi]", p.Constants)
	}
}

func TestSourcePropagationToInnerPrototype(t *testing.T) {
	inner := &encoder{}
	inner.str("") // empty source -> inherits parent
	inner.varint(0)
	inner.varint(0)
	inner.byte(0)
	inner.bool(false)
	inner.byte(2)
	inner.code(nil)
	inner.constants(nil)
	inner.emptyVec() // upvalues
	inner.emptyVec() // prototypes
	inner.emptyVec() // lineInfoDeltas
	inner.emptyVec() // absLineInfo
	inner.emptyVec() // localVariables
	inner.emptyVec() // upvalueNames

	outer := &encoder{}
	outer.header()
	outer.byte(0)
	outer.str("parent.lua")
	outer.varint(0)
	outer.varint(0)
	outer.byte(0)
	outer.bool(false)
	outer.byte(2)
	outer.code(nil)
	outer.constants(nil)
	outer.emptyVec()  // upvalues
	outer.varint(1)   // one nested prototype
	outer.buf.Write(inner.bytes())
	outer.emptyVec() // lineInfoDeltas
	outer.emptyVec() // absLineInfo
	outer.emptyVec() // localVariables
	outer.emptyVec() // upvalueNames

	p, err := Load(bytes.NewReader(outer.bytes()), "fallback")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(p.Prototypes) != 1 {
		t.Fatalf("expected 1 nested prototype, got %d", len(p.Prototypes))
	}
	if p.Prototypes[0].Source != "parent.lua" {
		t.Errorf("inner prototype Source = %q; want inherited %q", p.Prototypes[0].Source, "parent.lua")
	}
}

func TestUnknownConstantTagFails(t *testing.T) {
	e := &encoder{}
	e.header()
	e.byte(0)
	e.str("x")
	e.varint(0)
	e.varint(0)
	e.byte(0)
	e.bool(false)
	e.byte(1)
	e.emptyVec() // code
	e.varint(1)  // one constant
	e.byte(0x7f) // unknown tag
	if _, err := Load(bytes.NewReader(e.bytes()), "x"); err == nil {
		t.Error("Load with unknown constant tag should fail")
	}
}

// TestLoadGoldenFixtures loads the checked-in .luac fixtures and checks
// their shape; vm/run_test.go executes them end to end.
func TestLoadGoldenFixtures(t *testing.T) {
	cases := []struct {
		file         string
		wantSource   string
		wantMaxStack int
		wantConsts   int
	}{
		{"testdata/integer_return.luac", "integer_return.lua", 2, 0},
		{"testdata/string_concat.luac", "string_concat.lua", 2, 2},
	}
	for _, c := range cases {
		raw, err := os.ReadFile(c.file)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", c.file, err)
		}
		p, err := Load(bytes.NewReader(raw), "fallback")
		if err != nil {
			t.Fatalf("Load(%s) error: %v", c.file, err)
		}
		if p.Source != c.wantSource {
			t.Errorf("%s: Source = %q; want %q", c.file, p.Source, c.wantSource)
		}
		if p.MaxStackSize != c.wantMaxStack {
			t.Errorf("%s: MaxStackSize = %d; want %d", c.file, p.MaxStackSize, c.wantMaxStack)
		}
		if len(p.Constants) != c.wantConsts {
			t.Errorf("%s: len(Constants) = %d; want %d", c.file, len(p.Constants), c.wantConsts)
		}
	}
}
