//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// pkg/arena/pin_unix.go
package arena

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mlock pins size bytes starting at addr resident, refusing to let the
// kernel page them out.
func mlock(addr unsafe.Pointer, size int) error {
	return unix.Mlock(unsafe.Slice((*byte)(addr), size))
}

// munlock reverses mlock.
func munlock(addr unsafe.Pointer, size int) error {
	return unix.Munlock(unsafe.Slice((*byte)(addr), size))
}
