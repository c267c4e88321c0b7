package ffi

/*
#cgo LDFLAGS: -lffi
#include <ffi.h>
#include <stdlib.h>

// goFFITrampoline is implemented in Go and exported below; declaring it
// here lets trampolinePtr take its address as a plain C function pointer,
// which is what ffi_prep_closure_loc needs (cgo cannot express "the
// address of an exported Go function" any more directly than this).
extern void goFFITrampoline(ffi_cif *cif, void *ret, void **args, void *userdata);

static void *trampolinePtr(void) {
    return (void *)goFFITrampoline;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/smogvm/core/pkg/value"
)

// Caller is implemented by the VM embedding this engine. CreateCallback
// uses it to invoke the bound language function when native code calls
// back into a callback trampoline.
//
// The global callback lock (callbackLock below) serializes every foreign
// call into Invoke, so a single Caller instance is safe to share across
// concurrently firing callbacks. An implementation that wishes to remove
// this bottleneck must ensure each callback carries a per-task VM
// reference and that the bound language function runs on a dedicated VM
// or worker rather than sharing one Caller.
type Caller interface {
	Invoke(fn value.Value, args []value.Value) (value.Value, error)
}

// callbackLock is the global callback lock spec.md §4.6/§5 describes:
// every trampoline invocation takes it for its entire duration, so
// callbacks from native code effectively serialize through the runtime.
// Acceptable given the low rate of foreign callbacks expected; never held
// across a blocking primitive or another lock.
var callbackLock sync.Mutex

// Callback is a live native-callable closure bound to a language function.
// Its code page is a single anonymous mmap mapping, allocated and made
// executable with golang.org/x/sys/unix rather than through libffi's own
// closure allocator — the host's native-call-closure allocator spec.md
// §4.6 refers to. This is a single RW+EXEC mapping rather than the
// dual read/write + read/exec mapping libffi's allocator uses internally
// to satisfy W^X-enforcing hosts; documented as a known simplification
// for hosts that still permit one writable-and-executable page.
type Callback struct {
	id         uint64
	page       []byte // backing mmap region; munmap'd on free
	code       unsafe.Pointer
	cif        C.ffi_cif
	argFFIs    []*C.ffi_type
	paramTypes []TypeCode
	returnType TypeCode
	fn         value.Value
	caller     Caller
}

// CodePointer returns the address native code should call to invoke the
// callback (what ffi_callback_create hands back to the language runtime
// to pass on as a function-pointer argument).
func (cb *Callback) CodePointer() uintptr { return uintptr(cb.code) }

// allocClosurePage maps one anonymous, private page as read+write, sized
// to hold libffi's opaque ffi_closure record (rounded up to the host page
// size, since mmap only grants whole pages), and marks it executable so
// ffi_prep_closure_loc's generated trampoline stub can be called directly.
func allocClosurePage() ([]byte, error) {
	size := int(unsafe.Sizeof(C.ffi_closure{}))
	if pg := unix.Getpagesize(); size < pg {
		size = pg
	}
	page, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("ffi: mmap callback page: %w", err)
	}
	return page, nil
}

// CallbackRegistry holds every live callback, keyed by handle and by code
// pointer, to support cleanup by either key and bulk shutdown.
type CallbackRegistry struct {
	mu       sync.Mutex
	byID     map[uint64]*Callback
	byCode   map[uintptr]*Callback
	nextID   uint64
}

func newCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		byID:   make(map[uint64]*Callback),
		byCode: make(map[uintptr]*Callback),
	}
}

// CreateCallback allocates an executable closure page and binds it to a
// trampoline that, on every native invocation: acquires the global
// callback lock, converts native argument pointers into language values
// per paramTypes, invokes fn through caller, marshals the return per
// returnType, releases intermediate references, then releases the lock.
func (e *Engine) CreateCallback(caller Caller, fn value.Value, paramTypes []TypeCode, returnType TypeCode) (*Callback, error) {
	page, err := allocClosurePage()
	if err != nil {
		return nil, err
	}
	codePtr := unsafe.Pointer(&page[0])
	closure := (*C.ffi_closure)(codePtr)

	cb := &Callback{
		paramTypes: paramTypes,
		returnType: returnType,
		fn:         fn.Retain(),
		caller:     caller,
		page:       page,
		code:       codePtr,
	}

	retFFI, err := resolveFFIType(returnType)
	if err != nil {
		unix.Munmap(page)
		fn.Release()
		return nil, err
	}
	cb.argFFIs = make([]*C.ffi_type, len(paramTypes))
	for i, t := range paramTypes {
		ft, err := resolveFFIType(t)
		if err != nil {
			unix.Munmap(page)
			fn.Release()
			return nil, err
		}
		cb.argFFIs[i] = ft
	}
	var argTypesPtr **C.ffi_type
	if len(cb.argFFIs) > 0 {
		argTypesPtr = (**C.ffi_type)(unsafe.Pointer(&cb.argFFIs[0]))
	}
	status := C.ffi_prep_cif(&cb.cif, C.FFI_DEFAULT_ABI, C.uint(len(cb.argFFIs)), retFFI, argTypesPtr)
	if status != C.FFI_OK {
		unix.Munmap(page)
		fn.Release()
		return nil, fmt.Errorf("ffi: ffi_prep_cif (callback) failed: status %d", int(status))
	}

	e.callbacks.mu.Lock()
	e.callbacks.nextID++
	cb.id = e.callbacks.nextID
	e.callbacks.byID[cb.id] = cb
	e.callbacks.byCode[cb.CodePointer()] = cb
	e.callbacks.mu.Unlock()

	userdata := unsafe.Pointer(uintptr(cb.id))
	status = C.ffi_prep_closure_loc(closure, &cb.cif,
		(*[0]byte)(C.trampolinePtr()), userdata, codePtr)
	if status != C.FFI_OK {
		e.FreeCallback(cb.id)
		return nil, fmt.Errorf("ffi: ffi_prep_closure_loc failed: status %d", int(status))
	}
	return cb, nil
}

// FreeCallback releases a callback by handle, freeing its native closure
// and dropping the language function reference it held.
func (e *Engine) FreeCallback(id uint64) error {
	e.callbacks.mu.Lock()
	cb, ok := e.callbacks.byID[id]
	if ok {
		delete(e.callbacks.byID, id)
		delete(e.callbacks.byCode, cb.CodePointer())
	}
	e.callbacks.mu.Unlock()
	if !ok {
		return fmt.Errorf("ffi: no callback with id %d", id)
	}
	if err := unix.Munmap(cb.page); err != nil {
		return fmt.Errorf("ffi: munmap callback page: %w", err)
	}
	cb.fn.Release()
	return nil
}

// FreeCallbackByCode releases a callback identified by its native code
// pointer, the other handle native code tends to hand back on cleanup.
func (e *Engine) FreeCallbackByCode(code uintptr) error {
	e.callbacks.mu.Lock()
	cb, ok := e.callbacks.byCode[code]
	e.callbacks.mu.Unlock()
	if !ok {
		return fmt.Errorf("ffi: no callback at code pointer %#x", code)
	}
	return e.FreeCallback(cb.id)
}

// shutdownCallbacks frees every live callback, part of process shutdown.
func (e *Engine) shutdownCallbacks() {
	e.callbacks.mu.Lock()
	ids := make([]uint64, 0, len(e.callbacks.byID))
	for id := range e.callbacks.byID {
		ids = append(ids, id)
	}
	e.callbacks.mu.Unlock()
	for _, id := range ids {
		e.FreeCallback(id)
	}
}

//export goFFITrampoline
func goFFITrampoline(cif *C.ffi_cif, ret unsafe.Pointer, args *unsafe.Pointer, userdata unsafe.Pointer) {
	id := uint64(uintptr(userdata))
	activeEngine.callbacks.mu.Lock()
	cb, ok := activeEngine.callbacks.byID[id]
	activeEngine.callbacks.mu.Unlock()
	if !ok {
		return
	}

	callbackLock.Lock()
	defer callbackLock.Unlock()

	n := len(cb.paramTypes)
	argSlice := unsafe.Slice(args, n)
	langArgs := make([]value.Value, n)
	for i, t := range cb.paramTypes {
		size := argSize(t)
		data := unsafe.Slice((*byte)(argSlice[i]), size)
		v, err := unmarshalScalar(data, t)
		if err != nil {
			v = value.Null
		}
		langArgs[i] = v
	}

	result, err := cb.caller.Invoke(cb.fn, langArgs)
	if err != nil {
		result = value.Null
	}
	defer result.Release()

	if cb.returnType != TypeVoid {
		retSize := argSize(cb.returnType)
		retBuf := unsafe.Slice((*byte)(ret), retSize)
		marshalScalar(retBuf, cb.returnType, result)
	}
}
