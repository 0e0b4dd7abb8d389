//go:build !linux

package util

import "runtime"

// PinThread locks the calling goroutine to its OS thread. CPU binding is only
// supported on linux, other platforms ignore cpus.
func PinThread(_ []int) (func(), error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, nil
}
