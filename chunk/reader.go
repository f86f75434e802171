package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/speedata/go-lua54vm/value"
)

// Signature is the four magic bytes every Lua 5.4 precompiled chunk
// begins with.
const Signature = "\x1bLua"

const (
	luacVersion     = 0x54
	luacFormat      = 0x00
	instructionSize = 4
	integerSize     = 8
	numberSize      = 8
	luacIntTest     = int64(0x5678)
	luacNumTest     = 370.5
)

var luacData = [6]byte{0x19, 0x93, 0x0D, 0x0A, 0x1A, 0x0A}

// LoadError reports a chunk-format violation: bad magic, bad version,
// bad format byte, bad pad, wrong int/float/instruction size,
// endianness or float-format probe mismatch, unknown constant tag,
// variable-length-unsigned overflow, or truncated input. All checks
// in this package are fatal: the first mismatch aborts the load.
type LoadError struct {
	Offset int
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("chunk: load error at byte %d: %s", e.Offset, e.Reason)
}

// reader is the ChunkReader: it consumes a byte buffer and returns a
// Prototype tree, matching the Lua 5.4 undump layout bit-for-bit.
type reader struct {
	r     io.Reader
	index int
}

func newReader(r io.Reader) *reader { return &reader{r: r} }

func (rd *reader) fail(reason string) error {
	return &LoadError{Offset: rd.index, Reason: reason}
}

func (rd *reader) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, rd.fail(fmt.Sprintf("truncated input reading %d bytes: %v", n, err))
	}
	rd.index += n
	return buf, nil
}

func (rd *reader) readByte() (byte, error) {
	buf, err := rd.readBytes(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (rd *reader) readBool() (bool, error) {
	b, err := rd.readByte()
	return b != 0, err
}

func (rd *reader) readInt32() (int32, error) {
	buf, err := rd.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func (rd *reader) readInt64() (int64, error) {
	buf, err := rd.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (rd *reader) readFloat64() (float64, error) {
	buf, err := rd.readBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

// maxVarintBits bounds the variable-length-unsigned decoder: any
// accumulation that would need more bits than this is corruption, not
// a legitimately huge size.
const maxVarintBits = 56

// readVarint implements the spec's 7-bit continuation scheme: read
// bytes, x = (x<<7)|(b&0x7F), stop when the high bit of b is set.
func (rd *reader) readVarint() (uint64, error) {
	var x uint64
	var bitsUsed int
	for {
		b, err := rd.readByte()
		if err != nil {
			return 0, err
		}
		if bitsUsed+7 > 64 {
			return 0, rd.fail("variable-length unsigned overflow")
		}
		x = (x << 7) | uint64(b&0x7f)
		bitsUsed += 7
		if b&0x80 != 0 {
			break
		}
		if bitsUsed > maxVarintBits {
			return 0, rd.fail("variable-length unsigned exceeds size limit")
		}
	}
	return x, nil
}

// readVarintInt reads a variable-length unsigned field and returns it
// as an int. Every vector length and every line-number field in the
// chunk format (code/constant/upvalue/prototype/line-info/local-
// variable counts, lineDefined/lastLineDefined, and local variable
// start/end pc) uses this encoding, not a fixed-width int32 — only the
// instruction words themselves and the absolute line-info pc/line
// pairs are fixed 4-byte fields.
func (rd *reader) readVarintInt() (int, error) {
	x, err := rd.readVarint()
	if err != nil {
		return 0, err
	}
	return int(x), nil
}

// readString implements the spec's string encoding: a variable-length
// unsigned size prefix; 0 means empty string; otherwise the stored
// length is byte_count+1 and the loader reads length-1 bytes.
func (rd *reader) readString() (string, error) {
	size, err := rd.readVarint()
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf, err := rd.readBytes(int(size - 1))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (rd *reader) readCode() ([]uint32, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	code := make([]uint32, n)
	for i := range code {
		v, err := rd.readInt32()
		if err != nil {
			return nil, err
		}
		code[i] = uint32(v)
	}
	return code, nil
}

const (
	tagNil       = 0x00
	tagFalse     = 0x01
	tagTrue      = 0x11
	tagInteger   = 0x03
	tagFloat     = 0x13
	tagShortStr  = 0x04
	tagLongStr   = 0x14
)

func (rd *reader) readConstants() ([]value.Value, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	constants := make([]value.Value, n)
	for i := range constants {
		tag, err := rd.readByte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagNil:
			constants[i] = value.Nil
		case tagFalse:
			constants[i] = value.Bool(false)
		case tagTrue:
			constants[i] = value.Bool(true)
		case tagInteger:
			n, err := rd.readInt64()
			if err != nil {
				return nil, err
			}
			constants[i] = value.Int(n)
		case tagFloat:
			n, err := rd.readFloat64()
			if err != nil {
				return nil, err
			}
			constants[i] = value.Float(n)
		case tagShortStr, tagLongStr:
			s, err := rd.readString()
			if err != nil {
				return nil, err
			}
			constants[i] = value.Str(s)
		default:
			return nil, rd.fail(fmt.Sprintf("unknown constant tag 0x%02x", tag))
		}
	}
	return constants, nil
}

func (rd *reader) readUpvalues() ([]UpvalueDesc, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	ups := make([]UpvalueDesc, n)
	for i := range ups {
		inStack, err := rd.readBool()
		if err != nil {
			return nil, err
		}
		idx, err := rd.readByte()
		if err != nil {
			return nil, err
		}
		ups[i] = UpvalueDesc{InStack: inStack, Index: idx}
	}
	return ups, nil
}

func (rd *reader) readLineInfoDeltas() ([]int8, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	deltas := make([]int8, n)
	for i := range deltas {
		b, err := rd.readByte()
		if err != nil {
			return nil, err
		}
		deltas[i] = int8(b)
	}
	return deltas, nil
}

func (rd *reader) readAbsLineInfo() ([]AbsLineEntry, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	entries := make([]AbsLineEntry, n)
	for i := range entries {
		pc, err := rd.readInt32()
		if err != nil {
			return nil, err
		}
		line, err := rd.readInt32()
		if err != nil {
			return nil, err
		}
		entries[i] = AbsLineEntry{PC: int(pc), Line: int(line)}
	}
	return entries, nil
}

func (rd *reader) readLocalVariables() ([]LocalVariable, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	locals := make([]LocalVariable, n)
	for i := range locals {
		name, err := rd.readString()
		if err != nil {
			return nil, err
		}
		start, err := rd.readVarintInt()
		if err != nil {
			return nil, err
		}
		end, err := rd.readVarintInt()
		if err != nil {
			return nil, err
		}
		locals[i] = LocalVariable{Name: name, StartPC: start, EndPC: end}
	}
	return locals, nil
}

// readUpvalueNames reads its own vector-length prefix: the debug
// section carries the upvalue-name count independently of the
// earlier upvalue-descriptor count, even though both are normally
// equal for a well-formed chunk.
func (rd *reader) readUpvalueNames() ([]string, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		s, err := rd.readString()
		if err != nil {
			return nil, err
		}
		names[i] = s
	}
	return names, nil
}

func (rd *reader) readPrototypes(parentSource string) ([]*Prototype, error) {
	n, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	prototypes := make([]*Prototype, n)
	for i := range prototypes {
		p, err := rd.readFunction(parentSource)
		if err != nil {
			return nil, err
		}
		prototypes[i] = p
	}
	return prototypes, nil
}

func (rd *reader) readFunction(parentSource string) (*Prototype, error) {
	p := &Prototype{}

	source, err := rd.readString()
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = parentSource
	}
	p.Source = source

	lineDefined, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	p.LineDefined = lineDefined

	lastLineDefined, err := rd.readVarintInt()
	if err != nil {
		return nil, err
	}
	p.LastLineDefined = lastLineDefined

	paramCount, err := rd.readByte()
	if err != nil {
		return nil, err
	}
	p.ParameterCount = int(paramCount)

	isVarArg, err := rd.readBool()
	if err != nil {
		return nil, err
	}
	p.IsVarArg = isVarArg

	maxStack, err := rd.readByte()
	if err != nil {
		return nil, err
	}
	p.MaxStackSize = int(maxStack)

	if p.Code, err = rd.readCode(); err != nil {
		return nil, err
	}
	if p.Constants, err = rd.readConstants(); err != nil {
		return nil, err
	}
	if p.Upvalues, err = rd.readUpvalues(); err != nil {
		return nil, err
	}
	if p.Prototypes, err = rd.readPrototypes(p.Source); err != nil {
		return nil, err
	}
	if p.LineInfoDeltas, err = rd.readLineInfoDeltas(); err != nil {
		return nil, err
	}
	if p.AbsLineInfo, err = rd.readAbsLineInfo(); err != nil {
		return nil, err
	}
	if p.LocalVariables, err = rd.readLocalVariables(); err != nil {
		return nil, err
	}
	if p.UpvalueNames, err = rd.readUpvalueNames(); err != nil {
		return nil, err
	}
	return p, nil
}

func (rd *reader) checkHeader() error {
	sig, err := rd.readBytes(4)
	if err != nil {
		return err
	}
	if string(sig) != Signature {
		return rd.fail(fmt.Sprintf("bad magic %q, want %q", sig, Signature))
	}
	version, err := rd.readByte()
	if err != nil {
		return err
	}
	if version != luacVersion {
		return rd.fail(fmt.Sprintf("version mismatch: got 0x%02x, want 0x%02x", version, luacVersion))
	}
	format, err := rd.readByte()
	if err != nil {
		return err
	}
	if format != luacFormat {
		return rd.fail("not the official chunk format")
	}
	pad, err := rd.readBytes(6)
	if err != nil {
		return err
	}
	if [6]byte(pad) != luacData {
		return rd.fail("corrupted conversion-safety pad")
	}
	instrSize, err := rd.readByte()
	if err != nil {
		return err
	}
	if instrSize != instructionSize {
		return rd.fail(fmt.Sprintf("wrong instruction size: got %d, want %d", instrSize, instructionSize))
	}
	intSize, err := rd.readByte()
	if err != nil {
		return err
	}
	if intSize != integerSize {
		return rd.fail(fmt.Sprintf("wrong integer size: got %d, want %d", intSize, integerSize))
	}
	numSize, err := rd.readByte()
	if err != nil {
		return err
	}
	if numSize != numberSize {
		return rd.fail(fmt.Sprintf("wrong number size: got %d, want %d", numSize, numberSize))
	}
	testInt, err := rd.readInt64()
	if err != nil {
		return err
	}
	if testInt != luacIntTest {
		return rd.fail("endianness probe mismatch")
	}
	testNum, err := rd.readFloat64()
	if err != nil {
		return err
	}
	if testNum != luacNumTest {
		return rd.fail("float-format probe mismatch")
	}
	return nil
}

// Load parses a byte stream in the Lua 5.4 precompiled binary chunk
// format and returns the main Prototype. name is used only as the
// fallback source name if the main chunk's own source string is
// empty; it is not otherwise interpreted.
func Load(r io.Reader, name string) (*Prototype, error) {
	rd := newReader(r)
	if err := rd.checkHeader(); err != nil {
		return nil, err
	}
	if _, err := rd.readByte(); err != nil { // reserved upvalue count for main closure
		return nil, err
	}
	return rd.readFunction(name)
}
