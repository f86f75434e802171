// Package chunk implements the Lua 5.4 precompiled binary chunk
// format ("undump") and the in-memory Prototype tree it loads into.
package chunk

import "github.com/speedata/go-lua54vm/value"

// UpvalueDesc is one entry of a Prototype's upvalue descriptor list.
type UpvalueDesc struct {
	InStack bool
	Index   byte
}

// LocalVariable is one debug record tracking a local's live range.
type LocalVariable struct {
	Name           string
	StartPC, EndPC int
}

// AbsLineEntry is one sparse (pc, line) absolute-line correction.
type AbsLineEntry struct {
	PC, Line int
}

// Prototype is the in-memory form of one compiled Lua function. It is
// immutable once loaded: the loader owns construction, the VM holds a
// reference into it and never mutates it.
type Prototype struct {
	Source                       string
	LineDefined, LastLineDefined int
	ParameterCount               int
	IsVarArg                     bool
	MaxStackSize                 int

	Code       []uint32
	Constants  []value.Value
	Upvalues   []UpvalueDesc
	Prototypes []*Prototype

	LineInfoDeltas []int8
	AbsLineInfo    []AbsLineEntry
	LocalVariables []LocalVariable
	UpvalueNames   []string
}
