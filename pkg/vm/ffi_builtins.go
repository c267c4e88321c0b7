package vm

import (
	"fmt"
	"unsafe"

	"github.com/smogvm/core/pkg/ffi"
	"github.com/smogvm/core/pkg/value"
)

// Invoke lets *VM act as an ffi.Caller: a native callback trampoline
// invokes a language function through this method, reusing the VM's own
// call machinery (runClosure) rather than duplicating frame setup.
func (vm *VM) Invoke(fn value.Value, args []value.Value) (value.Value, error) {
	if fn.Kind() != value.KindClosure {
		releaseAll(args)
		return value.Null, fmt.Errorf("ffi: callback target is not a function (%s)", fn.Kind())
	}
	return vm.runClosure(fn.AsClosure(), args)
}

// registerFFIBuiltins wires pkg/ffi's load/sym/call/struct/callback
// surface into the VM's builtin dispatch table. These IDs are not assumed
// stable across builds the way the core builtins (len/str/push/type_name)
// are — host code reaches them the same way any RegisterFn'd builtin is
// reached, by the ID RegisterFn assigned each name below (in registration
// order, after the core builtins), or by
// disassembling a chunk compiled against a known front end revision.
func registerFFIBuiltins(t *BuiltinTable, e *ffi.Engine, caller ffi.Caller) {
	t.RegisterFn("ffi_load", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 || args[0].Kind() != value.KindString {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_load expects 1 string argument")
		}
		defer releaseAll(args)
		lib, err := e.Load(args[0].AsString().String())
		if err != nil {
			return value.Null, err
		}
		// The library handle is smuggled through NativePtr as an opaque
		// token (not a dereferenceable address): e.libraries keeps the
		// *ffi.Library alive for the process's lifetime, so the pointer
		// value stays valid for as long as any language value can hold it.
		return value.NewNativePtr(libraryHandle(lib), nil), nil
	})

	t.RegisterFn("ffi_sym", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 || args[0].Kind() != value.KindNativePtr || args[1].Kind() != value.KindString {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_sym expects (library, name)")
		}
		defer releaseAll(args)
		lib := libraryFromHandle(args[0].AsNativePtr().Addr)
		if lib == nil {
			return value.Null, fmt.Errorf("ffi_sym: invalid library handle")
		}
		addr := e.Sym(lib, args[1].AsString().String())
		return value.NewNativePtr(addr, nil), nil
	})

	t.RegisterFn("ffi_bind", func(args []value.Value) (value.Value, error) {
		if len(args) != 4 || args[0].Kind() != value.KindString || args[1].Kind() != value.KindNativePtr ||
			!args[2].Kind().IsInteger() || args[3].Kind() != value.KindArray {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_bind expects (name, symbol, return_type, arg_types)")
		}
		defer releaseAll(args)
		name := args[0].AsString().String()
		symbol := args[1].AsNativePtr().Addr
		retType := ffi.TypeCode(args[2].AsInt64())
		argArr := args[3].AsArray()
		argTypes := make([]ffi.TypeCode, argArr.Len())
		for i := range argTypes {
			v, _ := argArr.Get(i)
			argTypes[i] = ffi.TypeCode(v.AsInt64())
		}
		return ffi.NativeFn(name, symbol, retType, argTypes), nil
	})

	t.RegisterFn("ffi_call", func(args []value.Value) (value.Value, error) {
		if len(args) < 2 || args[0].Kind() != value.KindNativePtr || args[1].Kind() != value.KindArray {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_call expects (fn_ptr, types, ...call_args)")
		}
		fnPtr := args[0].AsNativePtr().Addr
		typesArr := args[1].AsArray()
		rawTypes := make([]int, typesArr.Len())
		for i := range rawTypes {
			v, _ := typesArr.Get(i)
			rawTypes[i] = int(v.AsInt64())
		}
		callArgs := args[2:]
		args[0].Release()
		args[1].Release()
		types, err := ffi.ResolveTypeCodes(rawTypes)
		if err != nil {
			releaseAll(callArgs)
			return value.Null, err
		}
		result, err := e.Call(fnPtr, types, callArgs)
		releaseAll(callArgs)
		return result, err
	})

	t.RegisterFn("ffi_register_struct", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 || args[0].Kind() != value.KindString || args[1].Kind() != value.KindArray {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_register_struct expects (name, fields)")
		}
		defer releaseAll(args)
		name := args[0].AsString().String()
		fieldsArr := args[1].AsArray()
		fields := make([]ffi.FieldSpec, fieldsArr.Len())
		for i := range fields {
			fv, _ := fieldsArr.Get(i)
			if fv.Kind() != value.KindObject {
				return value.Null, fmt.Errorf("ffi_register_struct: field %d is not an object", i)
			}
			obj := fv.AsObject()
			fname, _ := obj.Field("name")
			ftype, _ := obj.Field("type")
			fields[i] = ffi.FieldSpec{Name: fname.AsString().String(), Type: ffi.TypeCode(ftype.AsInt64())}
		}
		if _, err := e.RegisterStruct(name, fields); err != nil {
			return value.Null, err
		}
		return value.Null, nil
	})

	t.RegisterFn("ffi_struct_to_bytes", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 || args[0].Kind() != value.KindString {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_struct_to_bytes expects (struct_name, object)")
		}
		defer releaseAll(args)
		return e.MarshalStruct(args[0].AsString().String(), args[1])
	})

	t.RegisterFn("ffi_bytes_to_struct", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 || args[0].Kind() != value.KindString {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_bytes_to_struct expects (struct_name, buffer)")
		}
		defer releaseAll(args)
		return e.UnmarshalStruct(args[0].AsString().String(), args[1])
	})

	t.RegisterFn("ffi_callback_create", func(args []value.Value) (value.Value, error) {
		if len(args) != 3 || args[0].Kind() != value.KindClosure || args[1].Kind() != value.KindArray ||
			!args[2].Kind().IsInteger() {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_callback_create expects (fn, param_types, return_type)")
		}
		defer releaseAll(args)
		paramArr := args[1].AsArray()
		paramTypes := make([]ffi.TypeCode, paramArr.Len())
		for i := range paramTypes {
			v, _ := paramArr.Get(i)
			paramTypes[i] = ffi.TypeCode(v.AsInt64())
		}
		retType := ffi.TypeCode(args[2].AsInt64())
		cb, err := e.CreateCallback(caller, args[0], paramTypes, retType)
		if err != nil {
			return value.Null, err
		}
		return value.NewNativePtr(cb.CodePointer(), nil), nil
	})

	t.RegisterFn("ffi_callback_free", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 || args[0].Kind() != value.KindNativePtr {
			releaseAll(args)
			return value.Null, fmt.Errorf("ffi_callback_free expects (callback)")
		}
		defer releaseAll(args)
		return value.Null, e.FreeCallbackByCode(args[0].AsNativePtr().Addr)
	})
}

// libraryHandle/libraryFromHandle smuggle a *ffi.Library through a
// NativePtr's uintptr field as an opaque token rather than a
// dereferenceable address. This is safe only because the engine's own
// library slice holds a permanent strong reference to every *ffi.Library
// it ever returns (pkg/ffi's Load never removes an entry until Shutdown),
// so Go's garbage collector never reclaims the object out from under the
// pointer value a language-level handle carries.
func libraryHandle(lib *ffi.Library) uintptr {
	return uintptr(unsafe.Pointer(lib))
}

func libraryFromHandle(h uintptr) *ffi.Library {
	return (*ffi.Library)(unsafe.Pointer(h))
}
