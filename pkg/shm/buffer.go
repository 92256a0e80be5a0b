// Package shm provides the fixed-layout observation buffer that workers
// write into instead of sending observations through their channel.
//
// A Buffer has one slot per worker. The worker owning slot i writes it while
// handling a reset or step command; the controller reads it only after that
// command's reply has arrived. The command/reply alternation is the only
// synchronization; there is no lock.
package shm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/boristopalov/vecenv/pkg/core"
)

const float64Size = 8

// Buffer is a slots x size array of float64 values.
type Buffer struct {
	slots int
	size  int
	data  []byte
	// set for file-backed buffers
	path    string
	release func() error
}

// New returns a heap-backed buffer, shared by in-process workers.
func New(slots, size int) (*Buffer, error) {
	if err := checkLayout(slots, size); err != nil {
		return nil, err
	}
	return &Buffer{
		slots: slots,
		size:  size,
		data:  make([]byte, slots*size*float64Size),
	}, nil
}

func checkLayout(slots, size int) error {
	if slots <= 0 || size <= 0 {
		return fmt.Errorf("invalid buffer layout %dx%d", slots, size)
	}
	return nil
}

func (b *Buffer) Slots() int { return b.slots }
func (b *Buffer) Size() int  { return b.size }

// Path is the backing file of a file-backed buffer, empty otherwise.
func (b *Buffer) Path() string { return b.path }

// Write stores obs in slot. len(obs) must equal Size.
func (b *Buffer) Write(slot int, obs core.Observation) error {
	if slot < 0 || slot >= b.slots {
		return fmt.Errorf("slot %d out of range [0, %d)", slot, b.slots)
	}
	if len(obs) != b.size {
		return fmt.Errorf("observation has %d values, slot holds %d", len(obs), b.size)
	}
	off := slot * b.size * float64Size
	for i, v := range obs {
		binary.LittleEndian.PutUint64(b.data[off+i*float64Size:], math.Float64bits(v))
	}
	return nil
}

// Read returns a copy of slot.
func (b *Buffer) Read(slot int) (core.Observation, error) {
	if slot < 0 || slot >= b.slots {
		return nil, fmt.Errorf("slot %d out of range [0, %d)", slot, b.slots)
	}
	obs := make(core.Observation, b.size)
	off := slot * b.size * float64Size
	for i := range obs {
		obs[i] = math.Float64frombits(binary.LittleEndian.Uint64(b.data[off+i*float64Size:]))
	}
	return obs, nil
}

// Close releases a file-backed mapping. The creator also removes the file.
func (b *Buffer) Close() error {
	if b.release == nil {
		return nil
	}
	release := b.release
	b.release = nil
	b.data = nil
	return release()
}
