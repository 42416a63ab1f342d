//go:build windows

// pkg/arena/pin_windows.go
package arena

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mlock pins size bytes starting at addr resident via VirtualLock.
func mlock(addr unsafe.Pointer, size int) error {
	return windows.VirtualLock(uintptr(addr), uintptr(size))
}

// munlock reverses mlock.
func munlock(addr unsafe.Pointer, size int) error {
	return windows.VirtualUnlock(uintptr(addr), uintptr(size))
}
