package kfmt

import (
	"io"

	"github.com/redox-os/redox-sub002/kernel/sync"
)

// ringBufferSize is the capacity of the buffer that captures log output
// produced before an output sink is attached. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize-1 bytes written to it.
// Older bytes are silently overwritten once the buffer wraps.
type ringBuffer struct {
	lock           sync.Spinlock
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, dropping the oldest bytes if needed.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.lock.Acquire()
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}
	rb.lock.Release()

	return len(p), nil
}

// Read drains up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	rb.lock.Acquire()
	defer rb.lock.Release()

	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Contiguous readable span ends either at wIndex or at the end of the
	// backing array when the data wraps around.
	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int {
	rb.lock.Acquire()
	defer rb.lock.Release()
	return (rb.wIndex - rb.rIndex) & (ringBufferSize - 1)
}

// reset discards any buffered data.
func (rb *ringBuffer) reset() {
	rb.lock.Acquire()
	rb.rIndex, rb.wIndex = 0, 0
	rb.lock.Release()
}
