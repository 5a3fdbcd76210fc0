// Package cpu binds worker goroutines to OS threads and, where the platform
// allows it, to individual CPUs.
package cpu

import "runtime"

// Slot maps an arbitrary worker index onto a CPU index in [0, NumCPU).
func Slot(workerID int) int {
	n := runtime.NumCPU()
	if workerID < 0 {
		workerID = -workerID
	}
	return workerID % n
}

// Binding is the result of Bind. CPU is -1 when the thread was not pinned.
type Binding struct {
	CPU int
	Err error
}

// Bind locks the calling goroutine to its OS thread for the rest of the
// worker's life. With pinned set it also restricts that thread to the CPU
// selected by Slot(workerID); a pinning failure is reported in the Binding
// but leaves the thread locked.
//
// The returned release func must run on the same goroutine. It puts back
// the thread's original CPU mask before unlocking; if that fails the thread
// stays locked and the Go runtime discards it when the goroutine exits.
func Bind(workerID int, pinned bool) (Binding, func()) {
	runtime.LockOSThread()
	b := Binding{CPU: -1}
	if !pinned {
		return b, runtime.UnlockOSThread
	}

	var restore func() error
	b.CPU, restore, b.Err = pin(workerID)
	if restore == nil {
		return b, runtime.UnlockOSThread
	}
	return b, func() {
		if err := restore(); err != nil {
			return
		}
		runtime.UnlockOSThread()
	}
}
