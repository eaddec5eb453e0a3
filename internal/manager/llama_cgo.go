//go:build llama

package manager

// Link against libllama next to the binary: rpath $ORIGIN for the loader and
// ../../bin for the linker.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
