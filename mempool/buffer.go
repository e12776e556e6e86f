// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"io"
	"sync/atomic"
)

// Buffer is a pooled byte window. Bytes() is the written part, Space() the
// writable rest. The storage goes back to its pool when the last reference
// is released; the Buffer must not be used after that.
type Buffer struct {
	pool *Pool
	buf  []byte
	tier int
	cost int64
	refs int32
}

// Bytes .
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len .
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Cap .
func (b *Buffer) Cap() int {
	return cap(b.buf)
}

// Space returns the unwritten tail of the buffer. Bytes written into it are
// committed with Advance.
func (b *Buffer) Space() []byte {
	return b.buf[len(b.buf):cap(b.buf)]
}

// Advance commits n bytes written into Space.
func (b *Buffer) Advance(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

// Write appends as much of p as fits and returns io.ErrShortWrite when
// something was left out.
func (b *Buffer) Write(p []byte) (int, error) {
	n := copy(b.Space(), p)
	b.Advance(n)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Reset empties the buffer, keeping its storage.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	return int(atomic.LoadInt32(&b.refs))
}

// Retain adds a reference.
func (b *Buffer) Retain() *Buffer {
	if atomic.AddInt32(&b.refs, 1) <= 1 {
		panic("mempool: retain of released buffer")
	}
	return b
}

// Release drops a reference.
func (b *Buffer) Release() {
	n := atomic.AddInt32(&b.refs, -1)
	if n > 0 {
		return
	}
	if n < 0 || b.pool == nil {
		panic("mempool: buffer released too many times")
	}
	b.pool.put(b)
}
