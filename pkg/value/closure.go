package value

import "github.com/smogvm/core/pkg/bytecode"

// Upvalue is an indirection to an enclosing scope's local. While open, it
// points into a live VM stack slot; once the enclosing frame exits, it is
// closed and owns a copy of the value. The VM maintains open upvalues in a
// singly linked list sorted by descending stack address (see pkg/vm).
type Upvalue struct {
	location *Value // non-nil while open; points into the owning frame's stack slice
	closed   Value  // valid once location == nil
	next     *Upvalue
}

// NewOpenUpvalue creates an upvalue pointing at a live stack slot.
func NewOpenUpvalue(slot *Value) *Upvalue {
	return &Upvalue{location: slot}
}

// IsOpen reports whether the upvalue still points into a live stack slot.
func (u *Upvalue) IsOpen() bool { return u.location != nil }

// Get reads the upvalue's current value, open or closed.
func (u *Upvalue) Get() Value {
	if u.location != nil {
		return *u.location
	}
	return u.closed
}

// SetOpen writes through to the live stack slot; only valid while open.
func (u *Upvalue) SetOpen(v Value) {
	*u.location = v
}

// Close copies the current value out of the stack slot and detaches the
// upvalue from the stack, after which Get/Set operate on the owned copy.
// Closing an already-closed upvalue is a no-op, matching the idempotence
// property required by spec.md §8.
func (u *Upvalue) Close() {
	if u.location == nil {
		return
	}
	u.closed = *u.location
	u.location = nil
}

// Set writes the upvalue's value, whether open or closed.
func (u *Upvalue) Set(v Value) {
	if u.location != nil {
		*u.location = v
		return
	}
	u.closed = v
}

// StackAddr returns the address of the stack slot an open upvalue targets,
// used to keep the VM's open-upvalue list sorted by descending address. It
// returns nil for a closed upvalue (callers must not compare addresses of
// closed upvalues; they are already detached from the list).
func (u *Upvalue) StackAddr() *Value { return u.location }

// Next returns the next upvalue in the VM's open-upvalue list.
func (u *Upvalue) Next() *Upvalue { return u.next }

// SetNext links u to the next upvalue in the VM's open-upvalue list.
func (u *Upvalue) SetNext(next *Upvalue) { u.next = next }

// ClosureObj bundles a compiled function body with its captured upvalues
// and calling-convention metadata (spec.md §3 "Closure (Function)").
type ClosureObj struct {
	rc   refHeader
	Fn   *bytecode.Chunk

	ParamNames   []string
	ParamTypes   []string // optional per-parameter type names; empty entries mean "untyped"
	Defaults     []*bytecode.Chunk // optional default-value expression bodies, one per optional param
	RestParam    string            // name of the rest parameter, or "" if none
	ReturnType   string

	Upvalues []*Upvalue

	// BoundSelf/IsBound support bound methods: calling a bound closure
	// supplies Self as an implicit receiver without re-binding parameter
	// name storage (see SharedParamNames below).
	IsBound  bool
	BoundSelf Value

	// SharedParamNames is set when this closure shares its ParamNames
	// backing array with the unbound method template it was bound from.
	// drop does not consult it: ParamNames holds plain Go strings, which
	// no closure releases.
	SharedParamNames bool
}

func (c *ClosureObj) refHeader() *refHeader { return &c.rc }

func (c *ClosureObj) drop() {
	if c.IsBound {
		c.BoundSelf.Release()
	}
	for _, uv := range c.Upvalues {
		if uv.IsOpen() {
			continue // still owned by a live frame; the VM closes before releasing
		}
		uv.Get().Release()
	}
	c.Upvalues = nil
}

// NewClosure constructs a closure value over fn with the given captured
// upvalues (ownership of each upvalue's closed-over Value, if already
// closed, transfers to the closure).
func NewClosure(fn *bytecode.Chunk, upvalues []*Upvalue) Value {
	return fromHeap(KindClosure, &ClosureObj{rc: newRefHeader(), Fn: fn, Upvalues: upvalues})
}

// AsClosure returns the ClosureObj behind a KindClosure Value.
func (v Value) AsClosure() *ClosureObj { return v.ref.(*ClosureObj) }

// Bind returns a new closure value sharing this closure's chunk, parameter
// metadata, and upvalues, but with self bound to recv. Binding does not
// duplicate ParamNames; SharedParamNames is set on the returned copy to
// mark that its ParamNames backing array is shared.
func (c *ClosureObj) Bind(recv Value) Value {
	bound := *c
	bound.rc = newRefHeader()
	bound.IsBound = true
	bound.BoundSelf = recv.Retain()
	bound.SharedParamNames = true
	return fromHeap(KindClosure, &bound)
}
