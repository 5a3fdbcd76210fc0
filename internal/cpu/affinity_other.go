//go:build !linux

package cpu

import "errors"

var errUnsupported = errors.New("cpu pinning is not supported on this platform")

func pin(int) (int, func() error, error) {
	return -1, nil, errUnsupported
}

// Current is only implemented on Linux.
func Current() ([]int, error) {
	return nil, errUnsupported
}
