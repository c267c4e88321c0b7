package value

import "sync/atomic"

// refHeader is the atomic reference count embedded in every heap-backed
// object. It is initialized to 1 by whichever constructor creates the cell,
// matching the invariant that a function returning a Value transfers exactly
// one strong reference to the caller.
type refHeader struct {
	count int64
}

func newRefHeader() refHeader {
	return refHeader{count: 1}
}

// retain increments the count. Never called on a cell whose count has
// already reached zero (that would be a resurrection, which the atomic
// transitions in release are built to make unreachable in practice).
func (h *refHeader) retain() {
	atomic.AddInt64(&h.count, 1)
}

// release decrements the count and reports whether it reached zero.
func (h *refHeader) release() bool {
	return atomic.AddInt64(&h.count, -1) == 0
}

// Live returns the current reference count, for diagnostics and the
// refcount-conservation test property; it is not used in any control path.
func (h *refHeader) Live() int64 {
	return atomic.LoadInt64(&h.count)
}

// heapObject is implemented by every heap-backed cell kind. drop is called
// exactly once, when the count transitions to zero, and is responsible for
// releasing every Value the cell owns (array elements, object fields,
// closure captures, environment bindings) so releases cascade.
type heapObject interface {
	refHeader() *refHeader
	drop()
}

// Retain increments the reference count of a heap-backed Value. It is a
// no-op for inline (primitive) values.
func (v Value) Retain() Value {
	if v.ref != nil {
		v.ref.refHeader().retain()
	}
	return v
}

// Release decrements the reference count of a heap-backed Value. When the
// count reaches zero, the cell's drop hook runs, recursively releasing
// everything it contains. Release is a no-op for inline values.
func (v Value) Release() {
	if v.ref == nil {
		return
	}
	if v.ref.refHeader().release() {
		v.ref.drop()
	}
}

// RefCount reports the live strong-reference count of a heap-backed value,
// or -1 for inline primitives that carry no heap cell.
func (v Value) RefCount() int64 {
	if v.ref == nil {
		return -1
	}
	return v.ref.refHeader().Live()
}
