package bytecode

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// ConstKind tags a constant-pool entry.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstIdent
	ConstFunction
)

// Constant is one constant-pool entry. Only the field matching Kind is
// meaningful. Functions are never deduplicated (spec.md §4.2); every other
// kind is.
type Constant struct {
	Kind ConstKind
	I    int64
	F    float64
	S    string
	hash uint64 // precomputed FNV-1a hash, valid when Kind == ConstString or ConstIdent
	Fn   *Chunk
}

// UpvalueDesc describes one upvalue a CLOSURE instruction captures: either
// the enclosing frame's local at Index (IsLocal true) or the enclosing
// closure's own upvalue at Index (IsLocal false).
type UpvalueDesc struct {
	IsLocal bool
	Index   uint8
}

// Chunk is one compiled function or top-level script: its bytecode,
// constant pool, run-length-encoded line table, and calling-convention
// metadata.
type Chunk struct {
	Name         string
	Code         []byte
	Constants    []Constant
	Lines        []lineRun // RLE: consecutive instructions sharing a source line
	Arity        int
	OptionalCount int
	HasRest      bool
	IsAsync      bool
	Upvalues     []UpvalueDesc
	ParamTypes   []uint8 // optional per-parameter type IDs; empty if untyped
	ReturnType   uint8
	MaxStack     int

	constIndex map[constKey]int // dedup index for int/float/string/ident constants
}

type lineRun struct {
	Count int
	Line  int
}

type constKey struct {
	kind ConstKind
	i    int64
	f    float64
	s    string
}

// NewChunk constructs an empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{Name: name, constIndex: make(map[constKey]int)}
}

// WriteByte appends a single raw byte, attributing it to line.
func (c *Chunk) WriteByte(b byte, line int) int {
	offset := len(c.Code)
	c.Code = append(c.Code, b)
	c.appendLine(line)
	return offset
}

// WriteOpcode appends an opcode byte.
func (c *Chunk) WriteOpcode(op Opcode, line int) int {
	return c.WriteByte(byte(op), line)
}

// WriteShort appends a big-endian 16-bit value, returning the offset of its
// first byte (used by WriteJump so callers can remember the patch site).
func (c *Chunk) WriteShort(v uint16, line int) int {
	offset := len(c.Code)
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	c.Code = append(c.Code, buf[:]...)
	c.appendLine(line)
	c.appendLine(line)
	return offset
}

// WriteJump appends an opcode followed by a placeholder 16-bit offset and
// returns the offset of the placeholder, to be patched once the jump target
// is known.
func (c *Chunk) WriteJump(op Opcode, line int) int {
	c.WriteOpcode(op, line)
	return c.WriteShort(0xFFFF, line)
}

// PatchJump overwrites the placeholder at patchOffset with the forward
// distance from just after the placeholder to the current end of code. It
// fails if that distance exceeds the 16-bit unsigned range.
func (c *Chunk) PatchJump(patchOffset int) error {
	dest := len(c.Code) - (patchOffset + 2)
	if dest < 0 || dest > 0xFFFF {
		return fmt.Errorf("bytecode: jump distance %d out of 16-bit range", dest)
	}
	binary.BigEndian.PutUint16(c.Code[patchOffset:patchOffset+2], uint16(dest))
	return nil
}

// EmitLoop appends a LOOP instruction whose (pre-computed) operand jumps
// backward to loopStart.
func (c *Chunk) EmitLoop(loopStart int, line int) error {
	c.WriteOpcode(OpLoop, line)
	offset := len(c.Code) - loopStart + 2
	if offset > 0xFFFF {
		return fmt.Errorf("bytecode: loop body too large (%d bytes)", offset)
	}
	c.WriteShort(uint16(offset), line)
	return nil
}

func (c *Chunk) appendLine(line int) {
	n := len(c.Lines)
	if n > 0 && c.Lines[n-1].Line == line {
		c.Lines[n-1].Count++
		return
	}
	c.Lines = append(c.Lines, lineRun{Count: 1, Line: line})
}

// LineAt decodes the RLE line table to find the source line for a byte
// offset into Code.
func (c *Chunk) LineAt(offset int) int {
	remaining := offset
	for _, run := range c.Lines {
		if remaining < run.Count {
			return run.Line
		}
		remaining -= run.Count
	}
	if len(c.Lines) > 0 {
		return c.Lines[len(c.Lines)-1].Line
	}
	return 0
}

func fnv1a(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// AddInt adds (or finds, deduplicated) an integer constant and returns its
// pool index.
func (c *Chunk) AddInt(i int64) int {
	key := constKey{kind: ConstInt, i: i}
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := len(c.Constants)
	c.Constants = append(c.Constants, Constant{Kind: ConstInt, I: i})
	c.constIndex[key] = idx
	return idx
}

// AddFloat adds (or finds) a float constant.
func (c *Chunk) AddFloat(f float64) int {
	key := constKey{kind: ConstFloat, f: f}
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := len(c.Constants)
	c.Constants = append(c.Constants, Constant{Kind: ConstFloat, F: f})
	c.constIndex[key] = idx
	return idx
}

// AddString adds (or finds) a string constant, precomputing its FNV-1a
// hash for fast equality checks at runtime (e.g. object field lookup).
func (c *Chunk) AddString(s string) int {
	key := constKey{kind: ConstString, s: s}
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := len(c.Constants)
	c.Constants = append(c.Constants, Constant{Kind: ConstString, S: s, hash: fnv1a(s)})
	c.constIndex[key] = idx
	return idx
}

// AddIdent adds (or finds) an identifier constant (used for global/property
// names), sharing the same dedup and hashing treatment as strings but
// tagged distinctly so the disassembler can tell literals from names.
func (c *Chunk) AddIdent(s string) int {
	key := constKey{kind: ConstIdent, s: s}
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := len(c.Constants)
	c.Constants = append(c.Constants, Constant{Kind: ConstIdent, S: s, hash: fnv1a(s)})
	c.constIndex[key] = idx
	return idx
}

// AddFunction appends a nested chunk constant. Functions are never
// deduplicated — each compiled closure template is distinct even if two
// happen to produce byte-identical code.
func (c *Chunk) AddFunction(fn *Chunk) int {
	idx := len(c.Constants)
	c.Constants = append(c.Constants, Constant{Kind: ConstFunction, Fn: fn})
	return idx
}

// ReadUint16 reads a big-endian 16-bit operand at offset.
func ReadUint16(code []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(code[offset : offset+2])
}
