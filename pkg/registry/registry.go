// Package registry holds the process-wide, append-only tables the runtime
// consults for struct types and enums: the DEFINE_TYPE
// and DEFINE_ENUM opcodes register here, and SUPER/method dispatch look a
// type's parent and overrides up through it. Registration only ever grows
// within a process; there is no unregister, matching the language's
// "types are a compile-time-adjacent, load-once concept" design.
package registry

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/smogvm/core/pkg/value"
)

// TypeInfo describes one registered struct type: its declared parent (for
// SUPER dispatch) and its method table.
type TypeInfo struct {
	Name    string
	Parent  string // "" if this type has no parent
	Methods map[string]*value.ClosureObj
}

// Registry is the runtime's global type/enum table. Safe for
// concurrent use: SPAWN may run on a worker goroutine that registers a
// type while another goroutine queries it.
type Registry struct {
	mu types

	// registeredNames tracks every type/enum name ever registered,
	// independent of which table it lives in, so IsRegistered can answer
	// "does this name exist at all" with one set lookup instead of probing
	// both maps.
	registeredNames mapset.Set
}

type types struct {
	sync.RWMutex
	byType map[string]*TypeInfo
	enums  map[string][]string // enum name -> ordered variant names
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		mu:              types{byType: make(map[string]*TypeInfo), enums: make(map[string][]string)},
		registeredNames: mapset.NewSet(),
	}
}

// DefineType registers a struct type, optionally declaring parent as its
// supertype for SUPER dispatch. Re-registering an existing name overwrites
// it (used by REPL redefinition).
func (r *Registry) DefineType(name, parent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.byType[name] = &TypeInfo{Name: name, Parent: parent, Methods: make(map[string]*value.ClosureObj)}
	r.registeredNames.Add(name)
}

// DefineMethod attaches a method closure to a previously defined type.
func (r *Registry) DefineMethod(typeName, methodName string, fn *value.ClosureObj) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.mu.byType[typeName]
	if !ok {
		return fmt.Errorf("registry: method %q defined on unregistered type %q", methodName, typeName)
	}
	t.Methods[methodName] = fn
	return nil
}

// DefineEnum registers an enum type's ordered variant names.
func (r *Registry) DefineEnum(name string, variants []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.enums[name] = variants
	r.registeredNames.Add(name)
}

// Parent returns a type's declared parent, if any.
func (r *Registry) Parent(typeName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.mu.byType[typeName]
	if !ok || t.Parent == "" {
		return "", false
	}
	return t.Parent, true
}

// Method looks up a method on exactly typeName, not walking the parent
// chain (callers walk Parent themselves for inherited lookups).
func (r *Registry) Method(typeName, methodName string) (*value.ClosureObj, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.mu.byType[typeName]
	if !ok {
		return nil, false
	}
	m, ok := t.Methods[methodName]
	return m, ok
}

// EnumVariants returns the ordered variant names for a registered enum.
func (r *Registry) EnumVariants(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.mu.enums[name]
	return v, ok
}

// IsRegistered reports whether name was ever registered as a type or enum,
// regardless of table.
func (r *Registry) IsRegistered(name string) bool {
	return r.registeredNames.Contains(name)
}

// RegisteredNames returns a snapshot of every registered type/enum name,
// for REPL tab-completion and debugger listings.
func (r *Registry) RegisteredNames() []string {
	names := make([]string, 0, r.registeredNames.Cardinality())
	for n := range r.registeredNames.Iter() {
		names = append(names, n.(string))
	}
	return names
}
