package ffi

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslatePathPassesThroughPathsWithSeparators(t *testing.T) {
	p := filepath.Join("usr", "lib", "libfoo.so")
	require.Equal(t, p, translatePath(p))
}

func TestTranslatePathDarwinAlias(t *testing.T) {
	if runtime.GOOS != "darwin" {
		t.Skip("alias table only applies on darwin")
	}
	require.Equal(t, "libm.dylib", translatePath("libm.so"))
}

func TestTranslatePathUnknownBareNameUnchanged(t *testing.T) {
	require.Equal(t, "libnotreal.so", translatePath("libnotreal.so"))
}

func TestValidatePathRejectsEmpty(t *testing.T) {
	require.Error(t, validatePath(""))
}

func TestValidatePathRejectsRelativeSegments(t *testing.T) {
	require.Error(t, validatePath("../etc/libfoo.so"))
	require.Error(t, validatePath("/usr/./lib/libfoo.so"))
	require.Error(t, validatePath("/usr/../lib/libfoo.so"))
}

func TestValidatePathAcceptsOrdinaryPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "libfoo.so")
	require.NoError(t, validatePath(p))
}
