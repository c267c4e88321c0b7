package ffi

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unsafe"
)

// Library is a handle to a native shared library opened via dlopen(3).
type Library struct {
	handle unsafe.Pointer
	Path   string
}

// soAliases maps a few Linux-style library names (libm.so, libc.so and
// their .6 forms) to their macOS equivalents. Only darwin has entries;
// on other hosts, and for any other name, translatePath leaves the path
// unchanged.
var soAliases = map[string]map[string]string{
	"darwin": {"libm.so": "libm.dylib", "libc.so": "libSystem.dylib", "libm.so.6": "libm.dylib", "libc.so.6": "libSystem.dylib"},
}

// translatePath rewrites common Linux-style "libfoo.so[.N]" forms to the
// current host's native shared-library naming convention. Paths that
// already carry a host-native extension, or that aren't a bare library
// name at all (contain a directory separator), pass through unchanged.
func translatePath(path string) string {
	if strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	if aliases, ok := soAliases[runtime.GOOS]; ok {
		if alt, ok := aliases[path]; ok {
			return alt
		}
	}
	return path
}

// validatePath rejects empty paths and any path containing "..", "/./",
// or "/../" segments, and warns (without rejecting) when the containing
// directory is world-writable, per spec's path-validation rule.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("ffi: empty library path")
	}
	if strings.Contains(path, "..") || strings.Contains(path, "/./") || strings.Contains(path, "/../") {
		return fmt.Errorf("ffi: library path %q contains a disallowed relative segment", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if info, err := os.Stat(dir); err == nil && info.Mode()&0002 != 0 {
			fmt.Fprintf(os.Stderr, "ffi: warning: %s is world-writable\n", dir)
		}
	}
	return nil
}

// Load opens a native library by path with lazy symbol resolution
// (RTLD_LAZY), after cross-platform name translation and path validation.
func (e *Engine) Load(path string) (*Library, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	resolved := translatePath(path)
	cPath := C.CString(resolved)
	defer C.free(unsafe.Pointer(cPath))

	h := C.dlopen(cPath, C.RTLD_LAZY|C.RTLD_GLOBAL)
	if h == nil {
		return nil, fmt.Errorf("ffi: dlopen %q failed: %s", resolved, C.GoString(C.dlerror()))
	}
	lib := &Library{handle: h, Path: resolved}
	e.mu.Lock()
	e.libraries = append(e.libraries, lib)
	e.mu.Unlock()
	return lib, nil
}

// Sym resolves name in lib. Resolution is lazy and never errors: a missing
// symbol simply yields a nil pointer (symbol address 0), per spec's "many
// extern symbols without requiring all to be present" rule; the caller
// only fails if it tries to actually invoke a null pointer.
func (e *Engine) Sym(lib *Library, name string) uintptr {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	sym := C.dlsym(lib.handle, cName)
	return uintptr(sym)
}

// closeAll dlcloses every library opened through this engine, part of
// process-wide shutdown.
func (e *Engine) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, lib := range e.libraries {
		C.dlclose(lib.handle)
	}
	e.libraries = nil
}
