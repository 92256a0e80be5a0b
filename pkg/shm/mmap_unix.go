//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Create makes a file-backed buffer in dir that worker subprocesses can
// Open by path. An empty dir means os.TempDir().
func Create(dir string, slots, size int) (*Buffer, error) {
	if err := checkLayout(slots, size); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "vecenv-obs-"+uuid.New().String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create observation buffer: %w", err)
	}
	length := slots * size * float64Size
	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("size observation buffer: %w", err)
	}
	b, err := mapFile(f, path, slots, size, true)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return b, nil
}

// Open maps a buffer made by Create. The layout must match the creator's.
func Open(path string, slots, size int) (*Buffer, error) {
	if err := checkLayout(slots, size); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open observation buffer: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if want := int64(slots * size * float64Size); st.Size() != want {
		f.Close()
		return nil, fmt.Errorf("observation buffer %s is %d bytes, want %d", path, st.Size(), want)
	}
	return mapFile(f, path, slots, size, false)
}

func mapFile(f *os.File, path string, slots, size int, owner bool) (*Buffer, error) {
	length := slots * size * float64Size
	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	// The mapping stays valid after the descriptor is closed.
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("mmap observation buffer: %w", err)
	}
	if closeErr != nil {
		unix.Munmap(data)
		return nil, closeErr
	}

	b := &Buffer{
		slots: slots,
		size:  size,
		data:  data,
		path:  path,
	}
	b.release = func() error {
		err := unix.Munmap(data)
		if owner {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = errors.Join(err, rmErr)
			}
		}
		return err
	}
	return b, nil
}
