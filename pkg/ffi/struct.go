package ffi

import (
	"fmt"
	"sync"

	"github.com/smogvm/core/pkg/value"
)

// FieldSpec describes one struct field as declared by the caller of
// RegisterStruct, before offsets are computed.
type FieldSpec struct {
	Name string
	Type TypeCode
}

// StructField is a registered field with its computed, ABI-correct offset.
type StructField struct {
	Name   string
	Type   TypeCode
	Size   int
	Offset int
}

// StructDef is one process-wide registry entry: a nominal struct name,
// its fields in declaration order with computed offsets, and the overall
// size/alignment the host ABI assigns the type.
type StructDef struct {
	Name   string
	Fields []StructField
	Size   int
	Align  int
}

// FieldByName returns the field named n, or false if no such field exists.
func (d *StructDef) FieldByName(n string) (StructField, bool) {
	for _, f := range d.Fields {
		if f.Name == n {
			return f, true
		}
	}
	return StructField{}, false
}

// StructRegistry is the process-wide, append-only struct type table keyed
// by nominal name (spec.md §4.6 "Struct support"). Registration is guarded
// by a mutex; lookups are taken under a read lock so concurrent tasks can
// resolve struct types without contending on registration traffic, mirroring
// the registry discipline spec.md §5 describes for the type/enum registries.
type StructRegistry struct {
	mu    sync.RWMutex
	defs  map[string]*StructDef
}

// newStructRegistry constructs an empty registry.
func newStructRegistry() *StructRegistry {
	return &StructRegistry{defs: make(map[string]*StructDef)}
}

// Register computes field offsets for fields using standard C struct
// layout rules (each field aligned to its own natural alignment; the
// struct's overall size rounded up to its widest field's alignment) and
// stores the result under name, keyed for later marshal/unmarshal and FFI
// calls. Re-registering an existing name overwrites it — acceptable since
// the language source that declares native struct shapes is itself loaded
// once per process.
func (r *StructRegistry) Register(name string, fields []FieldSpec) (*StructDef, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("ffi: struct %q has no fields", name)
	}
	def := &StructDef{Name: name, Fields: make([]StructField, len(fields))}
	offset := 0
	maxAlign := 1
	for i, f := range fields {
		if f.Type == TypeStruct {
			return nil, fmt.Errorf("ffi: struct %q: nested struct fields are not supported", name)
		}
		size := f.Type.size()
		align := f.Type.align()
		if align > maxAlign {
			maxAlign = align
		}
		offset = alignUp(offset, align)
		def.Fields[i] = StructField{Name: f.Name, Type: f.Type, Size: size, Offset: offset}
		offset += size
	}
	def.Size = alignUp(offset, maxAlign)
	def.Align = maxAlign

	r.mu.Lock()
	r.defs[name] = def
	r.mu.Unlock()
	return def, nil
}

// Lookup returns the registered definition for name.
func (r *StructRegistry) Lookup(name string) (*StructDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// MarshalStruct writes obj's named fields into def's layout, returning a
// buffer value sized to def.Size. Unset fields (present in the layout but
// absent from obj) are left zeroed, per spec's "unset fields write zero".
func (e *Engine) MarshalStruct(name string, obj value.Value) (value.Value, error) {
	def, ok := e.Structs.Lookup(name)
	if !ok {
		return value.Null, fmt.Errorf("ffi: unregistered struct type %q", name)
	}
	if obj.Kind() != value.KindObject {
		return value.Null, fmt.Errorf("ffi: cannot marshal a %s as struct %q", obj.Kind(), name)
	}
	data := make([]byte, def.Size)
	for _, f := range def.Fields {
		fv, ok := obj.AsObject().Field(f.Name)
		if !ok {
			continue
		}
		if err := marshalScalar(data[f.Offset:f.Offset+f.Size], f.Type, fv); err != nil {
			return value.Null, fmt.Errorf("ffi: struct %q field %q: %w", name, f.Name, err)
		}
	}
	return value.NewBuffer(data), nil
}

// UnmarshalStruct reconstructs a language object from native struct memory
// laid out per def, reading each field at its computed offset.
func (e *Engine) UnmarshalStruct(name string, buf value.Value) (value.Value, error) {
	def, ok := e.Structs.Lookup(name)
	if !ok {
		return value.Null, fmt.Errorf("ffi: unregistered struct type %q", name)
	}
	data, err := bufferBytes(buf, def.Size)
	if err != nil {
		return value.Null, err
	}
	names := make([]string, len(def.Fields))
	values := make([]value.Value, len(def.Fields))
	for i, f := range def.Fields {
		v, err := unmarshalScalar(data[f.Offset:f.Offset+f.Size], f.Type)
		if err != nil {
			return value.Null, fmt.Errorf("ffi: struct %q field %q: %w", name, f.Name, err)
		}
		names[i] = f.Name
		values[i] = v
	}
	return value.NewObject(name, names, values), nil
}

// bufferBytes extracts the raw bytes backing a buffer or native-pointer
// value, validating it is at least wantSize bytes.
func bufferBytes(v value.Value, wantSize int) ([]byte, error) {
	switch v.Kind() {
	case value.KindBuffer:
		data := v.AsBuffer().Data
		if len(data) < wantSize {
			return nil, fmt.Errorf("ffi: buffer too small: have %d bytes, need %d", len(data), wantSize)
		}
		return data, nil
	case value.KindNativePtr:
		return bytesFromAddr(v.AsNativePtr().Addr, wantSize), nil
	}
	return nil, fmt.Errorf("ffi: expected a buffer or native pointer, got %s", v.Kind())
}
