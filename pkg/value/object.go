package value

// ObjectObj is an open record: parallel arrays of field names and field
// values, optionally preceded by a nominal type name. An open-addressing
// hash table from name to slot index is built lazily on first lookup and
// discarded on any structural mutation (field added/removed), per spec.md
// §3's invariant that the hash table is always consistent with the parallel
// arrays or absent.
type ObjectObj struct {
	rc        refHeader
	TypeName  string
	Names     []string
	Values    []Value
	index     map[string]int // lazily built; nil means "not built"
}

func (o *ObjectObj) refHeader() *refHeader { return &o.rc }

func (o *ObjectObj) drop() {
	for _, v := range o.Values {
		v.Release()
	}
	o.Values = nil
	o.Names = nil
	o.index = nil
}

// NewObject constructs an object with the given type name (empty for an
// anonymous record), taking ownership of one strong reference to each value.
func NewObject(typeName string, names []string, values []Value) Value {
	return fromHeap(KindObject, &ObjectObj{
		rc:       newRefHeader(),
		TypeName: typeName,
		Names:    names,
		Values:   values,
	})
}

// AsObject returns the ObjectObj behind a KindObject Value.
func (v Value) AsObject() *ObjectObj { return v.ref.(*ObjectObj) }

func (o *ObjectObj) buildIndex() {
	o.index = make(map[string]int, len(o.Names))
	for i, n := range o.Names {
		o.index[n] = i
	}
}

// Field looks up a named field, building the hash index on first call.
func (o *ObjectObj) Field(name string) (Value, bool) {
	if o.index == nil {
		o.buildIndex()
	}
	i, ok := o.index[name]
	if !ok {
		return Null, false
	}
	return o.Values[i], true
}

// SetField overwrites an existing field (releasing the old value, retaining
// the new one) or appends a new one, discarding the hash index either way
// so it is rebuilt lazily and never goes stale across a structural change.
func (o *ObjectObj) SetField(name string, v Value) {
	if o.index == nil {
		o.buildIndex()
	}
	if i, ok := o.index[name]; ok {
		o.Values[i].Release()
		o.Values[i] = v.Retain()
		return
	}
	o.Names = append(o.Names, name)
	o.Values = append(o.Values, v.Retain())
	o.index = nil
}

// FieldCount returns the number of fields.
func (o *ObjectObj) FieldCount() int { return len(o.Names) }
