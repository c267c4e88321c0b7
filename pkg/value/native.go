package value

import "os"

// NativePtrObj is an opaque native pointer, typically the result of an FFI
// call returning a pointer type or the handle backing a struct-typed FFI
// argument.
type NativePtrObj struct {
	rc   refHeader
	Addr uintptr
	// Free, if non-nil, is invoked when the last reference is released —
	// used when the pointer owns native memory the runtime allocated on
	// the language's behalf (e.g. a struct marshaled for a call).
	Free func()
}

func (p *NativePtrObj) refHeader() *refHeader { return &p.rc }
func (p *NativePtrObj) drop() {
	if p.Free != nil {
		p.Free()
	}
}

// NewNativePtr wraps a raw address.
func NewNativePtr(addr uintptr, free func()) Value {
	return fromHeap(KindNativePtr, &NativePtrObj{rc: newRefHeader(), Addr: addr, Free: free})
}

// AsNativePtr returns the NativePtrObj behind a KindNativePtr Value.
func (v Value) AsNativePtr() *NativePtrObj { return v.ref.(*NativePtrObj) }

// FileObj wraps an open OS file handle.
type FileObj struct {
	rc   refHeader
	File *os.File
}

func (f *FileObj) refHeader() *refHeader { return &f.rc }
func (f *FileObj) drop() {
	if f.File != nil {
		f.File.Close()
	}
}

// NewFile wraps an already-open *os.File, transferring ownership of the
// descriptor to the returned Value (it is closed when the last reference
// drops).
func NewFile(f *os.File) Value {
	return fromHeap(KindFile, &FileObj{rc: newRefHeader(), File: f})
}

// AsFile returns the FileObj behind a KindFile Value.
func (v Value) AsFile() *FileObj { return v.ref.(*FileObj) }

// SocketObj is an opaque handle to a network socket. Networking itself is
// out of scope for the runtime core (spec.md §1 names it an external
// stdlib concern); this type exists only so the value model has somewhere
// to put the handle a socket builtin would return.
type SocketObj struct {
	rc     refHeader
	Closer interface{ Close() error }
}

func (s *SocketObj) refHeader() *refHeader { return &s.rc }
func (s *SocketObj) drop() {
	if s.Closer != nil {
		s.Closer.Close()
	}
}

// NewSocket wraps a closer-like handle.
func NewSocket(c interface{ Close() error }) Value {
	return fromHeap(KindSocket, &SocketObj{rc: newRefHeader(), Closer: c})
}

// AsSocket returns the SocketObj behind a KindSocket Value.
func (v Value) AsSocket() *SocketObj { return v.ref.(*SocketObj) }

// NativeFnObj is a handle to an FFI-resolved native function: a raw symbol
// pointer plus the type signature needed to marshal calls (see pkg/ffi).
type NativeFnObj struct {
	rc      refHeader
	Symbol  uintptr
	Name    string
	RetType uint8
	ArgTypes []uint8
}

func (f *NativeFnObj) refHeader() *refHeader { return &f.rc }
func (f *NativeFnObj) drop()                 {}

// NewNativeFn wraps a resolved native symbol with its calling signature.
func NewNativeFn(name string, symbol uintptr, retType uint8, argTypes []uint8) Value {
	return fromHeap(KindNativeFn, &NativeFnObj{
		rc: newRefHeader(), Symbol: symbol, Name: name, RetType: retType, ArgTypes: argTypes,
	})
}

// AsNativeFn returns the NativeFnObj behind a KindNativeFn Value.
func (v Value) AsNativeFn() *NativeFnObj { return v.ref.(*NativeFnObj) }
