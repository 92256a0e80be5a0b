//go:build !unix

package shm

import "errors"

var errUnsupported = errors.New("file-backed observation buffers need a unix platform")

func Create(dir string, slots, size int) (*Buffer, error) {
	return nil, errUnsupported
}

func Open(path string, slots, size int) (*Buffer, error) {
	return nil, errUnsupported
}
