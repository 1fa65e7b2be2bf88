//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package jit

import "fmt"

// Map is not available on this platform.
func Map(code []byte) (*Region, error) {
	return nil, fmt.Errorf("jit: executable mappings are not supported on this platform")
}

func (r *Region) unmap() error { return nil }
