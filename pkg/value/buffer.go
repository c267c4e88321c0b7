package value

// BufferObj is a length-prefixed mutable byte array, distinct from String:
// it is never assumed to be UTF-8 and carries no rune-count cache. Buffers
// back FFI pointer marshaling (spec.md §4.6: "pointer accepts ... the raw
// data buffer of a byte-buffer value").
type BufferObj struct {
	rc   refHeader
	Data []byte
}

func (b *BufferObj) refHeader() *refHeader { return &b.rc }
func (b *BufferObj) drop()                 { b.Data = nil }

// NewBuffer wraps data (taking ownership of the slice; callers that need to
// retain their own copy should pass a clone).
func NewBuffer(data []byte) Value {
	return fromHeap(KindBuffer, &BufferObj{rc: newRefHeader(), Data: data})
}

// AsBuffer returns the BufferObj behind a KindBuffer Value.
func (v Value) AsBuffer() *BufferObj { return v.ref.(*BufferObj) }

// Len returns the buffer's byte length.
func (b *BufferObj) Len() int { return len(b.Data) }
