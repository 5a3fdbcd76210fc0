//go:build linux

package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pin restricts the calling OS thread to a single CPU and returns a func
// that restores the mask the thread had before. The caller must hold
// runtime.LockOSThread until restore has run.
func pin(slot int) (int, func() error, error) {
	cpuID := Slot(slot)

	// pid 0 targets the calling thread
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return -1, nil, fmt.Errorf("read affinity: %w", err)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return -1, nil, fmt.Errorf("pin thread to cpu %d: %w", cpuID, err)
	}

	restore := func() error {
		return unix.SchedSetaffinity(0, &prev)
	}
	return cpuID, restore, nil
}

// Current returns the CPUs the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}

	cpus := make([]int, 0, set.Count())
	for i := range runtime.NumCPU() {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
