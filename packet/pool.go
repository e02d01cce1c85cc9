package packet

import (
	"bytes"
	"sync"
)

// maxPooled keeps one oversized PUBLISH from pinning its buffer in the pool.
const maxPooled = 64 * KB

type Buffer struct {
	pool *sync.Pool
}

func newBuffer() *Buffer {
	return &Buffer{
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

func (b *Buffer) Get() *bytes.Buffer {
	return b.pool.Get().(*bytes.Buffer)
}

func (b *Buffer) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooled {
		return
	}
	buf.Reset()
	b.pool.Put(buf)
}

var buffer = newBuffer()

// GetBuffer returns an empty buffer from the shared pool.
func GetBuffer() *bytes.Buffer {
	return buffer.Get()
}

// PutBuffer resets buf and returns it to the shared pool.
func PutBuffer(buf *bytes.Buffer) {
	buffer.Put(buf)
}
