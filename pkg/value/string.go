package value

import (
	"sync"
	"unicode/utf8"

	"github.com/VictoriaMetrics/fastcache"
)

// StringObj is a byte buffer interpreted as UTF-8, with a lazily computed
// codepoint count. Mutation in place is allowed; growing past capacity
// reallocates the backing slice.
type StringObj struct {
	rc   refHeader
	data []byte

	mu       sync.Mutex
	runeLen  int
	runeLenOK bool
}

func (s *StringObj) refHeader() *refHeader { return &s.rc }
func (s *StringObj) drop()                 {}

// Len returns the byte length of the string.
func (s *StringObj) Len() int { return len(s.data) }

// Bytes returns the raw UTF-8 bytes. Callers must not mutate the returned
// slice; use Set to mutate in place.
func (s *StringObj) Bytes() []byte { return s.data }

// String returns the string's contents as a Go string (a copy).
func (s *StringObj) String() string { return string(s.data) }

// RuneCount returns the cached Unicode codepoint count, computing it on
// first access.
func (s *StringObj) RuneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runeLenOK {
		s.runeLen = utf8.RuneCount(s.data)
		s.runeLenOK = true
	}
	return s.runeLen
}

// Set mutates the string in place, invalidating the cached rune count.
func (s *StringObj) Set(data []byte) {
	s.data = data
	s.mu.Lock()
	s.runeLenOK = false
	s.mu.Unlock()
}

// internTable is the process-wide string interning cache backing the
// "interned mutable string" invariant from spec.md §3. Strings are cached by
// content hash in a fixed byte budget; eviction under memory pressure is
// acceptable because interning here is a performance optimization (dedup
// allocation for repeated literals) rather than an identity guarantee — two
// interned strings with equal content always compare equal by value, with
// or without a cache hit.
var internTable = fastcache.New(8 * 1024 * 1024)

// NewString constructs a fresh, uninterned StringObj wrapping data. Use
// InternString for string *literals*, where content-based dedup is worth the
// cache lookup; use NewString for strings built at runtime (concatenation,
// formatting) that are unlikely to repeat.
func NewString(s string) Value {
	return fromHeap(KindString, &StringObj{rc: newRefHeader(), data: []byte(s)})
}

// InternString returns a Value for s, sharing the backing byte slice with
// any previously interned occurrence of the same content. The returned
// StringObj is still an independent heap cell (the language permits mutating
// one interned string without affecting others with equal prior content) —
// only the initial byte slice is shared, copy-on-write style, via the cache.
func InternString(s string) Value {
	key := []byte(s)
	if cached := internTable.Get(nil, key); cached != nil {
		data := make([]byte, len(cached))
		copy(data, cached)
		return fromHeap(KindString, &StringObj{rc: newRefHeader(), data: data})
	}
	internTable.Set(key, key)
	return NewString(s)
}

// AsString returns the StringObj behind a KindString Value.
func (v Value) AsString() *StringObj { return v.ref.(*StringObj) }
