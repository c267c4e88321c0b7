package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies smogvm bytecode files. Version is split major/minor per
// spec.md §6: minor bumps are additive-only (new constant kinds appended,
// new optional metadata fields), major bumps may change the wire encoding
// itself and are never forward- or backward-compatible.
var Magic = [8]byte{'S', 'M', 'O', 'G', 'V', 'M', 0, 0}

const (
	FormatMajor uint16 = 1
	FormatMinor uint16 = 0
)

// ErrBadMagic is returned when a file does not begin with the smogvm magic.
var ErrBadMagic = errors.New("bytecode: not a smogvm bytecode file")

// ErrIncompatibleVersion is returned when a file's major version differs
// from FormatMajor; minor version skew is tolerated.
var ErrIncompatibleVersion = errors.New("bytecode: incompatible bytecode format version")

// Compatible reports whether a file declaring the given major version can
// be read by this build.
func Compatible(major uint16) bool { return major == FormatMajor }

// Serialize writes c as a top-level chunk in the on-disk format: an 8-byte
// magic, 2-byte major version, 2-byte minor version, then the chunk itself
// (recursively, for nested function constants).
func Serialize(w io.Writer, c *Chunk) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatMajor); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatMinor); err != nil {
		return err
	}
	return writeChunk(w, c)
}

func writeChunk(w io.Writer, c *Chunk) error {
	if err := writeU16(w, uint16(c.Arity)); err != nil {
		return err
	}
	if err := writeU16(w, uint16(c.OptionalCount)); err != nil {
		return err
	}
	if err := writeBool(w, c.HasRest); err != nil {
		return err
	}
	if err := writeBool(w, c.IsAsync); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(c.Code))); err != nil {
		return err
	}
	if _, err := w.Write(c.Code); err != nil {
		return err
	}
	if err := writeU16(w, uint16(len(c.Constants))); err != nil {
		return err
	}
	for _, k := range c.Constants {
		if err := writeConstant(w, k); err != nil {
			return err
		}
	}
	// line table, as RLE (count, line) pairs
	if err := writeU32(w, uint32(len(c.Lines)*8)); err != nil {
		return err
	}
	for _, run := range c.Lines {
		if err := writeU32(w, uint32(run.Count)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(run.Line)); err != nil {
			return err
		}
	}
	if err := writeU8(w, uint8(len(c.Upvalues))); err != nil {
		return err
	}
	for _, u := range c.Upvalues {
		if err := writeBool(w, u.IsLocal); err != nil {
			return err
		}
		if err := writeU8(w, u.Index); err != nil {
			return err
		}
	}
	if err := writeU16(w, uint16(len(c.ParamTypes))); err != nil {
		return err
	}
	for _, t := range c.ParamTypes {
		if err := writeU8(w, t); err != nil {
			return err
		}
	}
	if err := writeU8(w, c.ReturnType); err != nil {
		return err
	}
	if err := writeU16(w, 0); err != nil { // local count: always written as 0; readChunk reads and discards it
		return err
	}
	return writeU16(w, uint16(c.MaxStack))
}

func writeConstant(w io.Writer, k Constant) error {
	if err := writeU8(w, uint8(k.Kind)); err != nil {
		return err
	}
	switch k.Kind {
	case ConstInt:
		return binary.Write(w, binary.BigEndian, k.I)
	case ConstFloat:
		return binary.Write(w, binary.BigEndian, k.F)
	case ConstString, ConstIdent:
		if err := writeU32(w, uint32(len(k.S))); err != nil {
			return err
		}
		_, err := io.WriteString(w, k.S)
		return err
	case ConstFunction:
		return writeChunk(w, k.Fn)
	}
	return fmt.Errorf("bytecode: unknown constant kind %d", k.Kind)
}

// Deserialize reads a chunk previously written by Serialize.
func Deserialize(r io.Reader) (*Chunk, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	major, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if !Compatible(major) {
		return nil, ErrIncompatibleVersion
	}
	if _, err := readU16(r); err != nil { // minor version, informational
		return nil, err
	}
	return readChunk(r)
}

func readChunk(r io.Reader) (*Chunk, error) {
	c := NewChunk("")
	arity, err := readU16(r)
	if err != nil {
		return nil, err
	}
	c.Arity = int(arity)
	opt, err := readU16(r)
	if err != nil {
		return nil, err
	}
	c.OptionalCount = int(opt)
	if c.HasRest, err = readBool(r); err != nil {
		return nil, err
	}
	if c.IsAsync, err = readBool(r); err != nil {
		return nil, err
	}
	codeLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	c.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(r, c.Code); err != nil {
		return nil, err
	}
	constCount, err := readU16(r)
	if err != nil {
		return nil, err
	}
	c.Constants = make([]Constant, constCount)
	for i := range c.Constants {
		k, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		c.Constants[i] = k
	}
	lineBytes, err := readU32(r)
	if err != nil {
		return nil, err
	}
	runs := lineBytes / 8
	c.Lines = make([]lineRun, 0, runs)
	for i := uint32(0); i < runs; i++ {
		count, err := readU32(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, lineRun{Count: int(count), Line: int(line)})
	}
	upvalCount, err := readU8(r)
	if err != nil {
		return nil, err
	}
	c.Upvalues = make([]UpvalueDesc, upvalCount)
	for i := range c.Upvalues {
		isLocal, err := readBool(r)
		if err != nil {
			return nil, err
		}
		idx, err := readU8(r)
		if err != nil {
			return nil, err
		}
		c.Upvalues[i] = UpvalueDesc{IsLocal: isLocal, Index: idx}
	}
	paramCount, err := readU16(r)
	if err != nil {
		return nil, err
	}
	c.ParamTypes = make([]uint8, paramCount)
	for i := range c.ParamTypes {
		if c.ParamTypes[i], err = readU8(r); err != nil {
			return nil, err
		}
	}
	if c.ReturnType, err = readU8(r); err != nil {
		return nil, err
	}
	if _, err := readU16(r); err != nil { // local count, unused on load
		return nil, err
	}
	maxStack, err := readU16(r)
	if err != nil {
		return nil, err
	}
	c.MaxStack = int(maxStack)
	return c, nil
}

func readConstant(r io.Reader) (Constant, error) {
	kindByte, err := readU8(r)
	if err != nil {
		return Constant{}, err
	}
	kind := ConstKind(kindByte)
	switch kind {
	case ConstInt:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return Constant{}, err
		}
		return Constant{Kind: kind, I: i}, nil
	case ConstFloat:
		var f float64
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return Constant{}, err
		}
		return Constant{Kind: kind, F: f}, nil
	case ConstString, ConstIdent:
		n, err := readU32(r)
		if err != nil {
			return Constant{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Constant{}, err
		}
		s := string(buf)
		return Constant{Kind: kind, S: s, hash: fnv1a(s)}, nil
	case ConstFunction:
		fn, err := readChunk(r)
		if err != nil {
			return Constant{}, err
		}
		return Constant{Kind: kind, Fn: fn}, nil
	}
	return Constant{}, fmt.Errorf("bytecode: unknown constant kind %d on deserialize", kindByte)
}

// RoundTrip serializes then deserializes c, for the round-trip test
// property in spec.md §8.
func RoundTrip(c *Chunk) (*Chunk, error) {
	var buf bytes.Buffer
	if err := Serialize(&buf, c); err != nil {
		return nil, err
	}
	return Deserialize(&buf)
}

func writeU8(w io.Writer, v uint8) error   { return binary.Write(w, binary.BigEndian, v) }
func writeU16(w io.Writer, v uint16) error { return binary.Write(w, binary.BigEndian, v) }
func writeU32(w io.Writer, v uint32) error { return binary.Write(w, binary.BigEndian, v) }
func writeBool(w io.Writer, v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return writeU8(w, b)
}

func readU8(r io.Reader) (uint8, error) {
	var v uint8
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readBool(r io.Reader) (bool, error) {
	v, err := readU8(r)
	return v != 0, err
}
