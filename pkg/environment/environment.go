// Package environment implements the lexically scoped variable bindings
// shared between the bytecode VM's tree-walking sibling backend and any
// tooling (REPL autocomplete, debugger variable inspection) that wants
// named-scope semantics rather than the VM's slot-indexed locals/upvalues.
//
// The VM itself does not walk Environments at call time — its closures
// capture Upvalues (pkg/value) resolved statically by the compiler. This
// package exists because spec.md §4.4 names Environment as a first-class
// component "shared with the interpreter" (an external collaborator backend
// this repo does not implement), and because the VM's global scope and the
// debugger's variable-watch view are naturally expressed against it.
package environment

import (
	"fmt"
	"sync"

	"github.com/smogvm/core/pkg/value"
)

// binding holds one variable's value alongside its mutability and optional
// resolved type name.
type binding struct {
	val      value.Value
	mutable  bool
	isConst  bool
	typeName string
}

// Environment is a linked record of parent plus a name-to-slot table. Slots
// hold a Value, a mutable/const flag, and optionally a resolved type.
// Environments are themselves reference-counted: closures retain their
// capture environment, and an environment retains its parent.
type Environment struct {
	mu      sync.RWMutex
	vars    map[string]*binding
	order   []string // declaration order, for fast-path (depth, slot) resolution
	parent  *Environment
	refs    int32
}

// New creates a root environment with no parent.
func New() *Environment {
	return &Environment{vars: make(map[string]*binding)}
}

// NewChild creates a scope nested inside parent, retaining a reference to
// it for the lifetime of the child.
func NewChild(parent *Environment) *Environment {
	parent.Retain()
	return &Environment{vars: make(map[string]*binding), parent: parent}
}

// Retain increments the environment's reference count.
func (e *Environment) Retain() { e.refs++ }

// Release decrements the reference count; at zero, releases every bound
// Value and the parent link, cascading the release the same way heap
// Values do.
func (e *Environment) Release() {
	e.refs--
	if e.refs > 0 {
		return
	}
	for _, b := range e.vars {
		b.val.Release()
	}
	e.vars = nil
	if e.parent != nil {
		e.parent.Release()
		e.parent = nil
	}
}

// Define creates a new binding in this scope, taking ownership of one
// strong reference to v.
func (e *Environment) Define(name string, v value.Value, mutable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.vars[name]; !exists {
		e.order = append(e.order, name)
	} else {
		e.vars[name].val.Release()
	}
	e.vars[name] = &binding{val: v, mutable: mutable}
}

// DefineConst is Define with the const flag set, rejecting later Set calls.
func (e *Environment) DefineConst(name string, v value.Value) {
	e.Define(name, v, false)
	e.mu.Lock()
	e.vars[name].isConst = true
	e.mu.Unlock()
}

// Get walks this environment and its parents looking for name.
func (e *Environment) Get(name string) (value.Value, bool) {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		b, ok := env.vars[name]
		env.mu.RUnlock()
		if ok {
			return b.val, true
		}
	}
	return value.Null, false
}

// Set walks parents to find an existing binding and overwrites it,
// releasing the old value and retaining v. Returns an error if the name is
// undefined or bound const.
func (e *Environment) Set(name string, v value.Value) error {
	for env := e; env != nil; env = env.parent {
		env.mu.Lock()
		b, ok := env.vars[name]
		if ok {
			if b.isConst {
				env.mu.Unlock()
				return fmt.Errorf("environment: cannot assign to const %q", name)
			}
			b.val.Release()
			b.val = v.Retain()
			env.mu.Unlock()
			return nil
		}
		env.mu.Unlock()
	}
	return fmt.Errorf("environment: undefined variable %q", name)
}

// Resolve performs the static lookup a compiler pass uses to turn a name
// reference into a (depth, slot) pair, so later Get/Set calls at that site
// can skip the name-table walk. depth counts parent hops (0 = this scope).
func (e *Environment) Resolve(name string) (depth int, ok bool) {
	for env, d := e, 0; env != nil; env, d = env.parent, d+1 {
		env.mu.RLock()
		_, found := env.vars[name]
		env.mu.RUnlock()
		if found {
			return d, true
		}
	}
	return 0, false
}

// GetAtDepth reads a binding known (via Resolve) to live depth hops up.
func (e *Environment) GetAtDepth(depth int, name string) (value.Value, bool) {
	env := e
	for i := 0; i < depth && env != nil; i++ {
		env = env.parent
	}
	if env == nil {
		return value.Null, false
	}
	env.mu.RLock()
	defer env.mu.RUnlock()
	b, ok := env.vars[name]
	if !ok {
		return value.Null, false
	}
	return b.val, true
}

// Names returns the bindings declared directly in this scope, in
// declaration order (not including parents).
func (e *Environment) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Parent returns the enclosing environment, or nil at the root.
func (e *Environment) Parent() *Environment { return e.parent }
