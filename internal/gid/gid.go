// Package gid provides a minimal goroutine-local cell, used by the reactor
// package to detect re-entrant batch execution. Goroutine identity comes
// from parsing the header of runtime.Stack output, which is stable for the
// lifetime of the goroutine.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Current returns an identifier unique to the calling goroutine, for as long
// as that goroutine is alive. It is relatively expensive (it parses a stack
// trace) and is intended for use only around batch boundaries, never in a
// hot per-event loop.
func Current() int64 {
	buf := gidBufPool.Get().(*[]byte)
	defer gidBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	b := (*buf)[:n]

	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	b = bytes.TrimPrefix(b, []byte(prefix))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}

	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// Should not happen given runtime's own stack format, but a cell
		// keyed on 0 for every caller is still safe (just degrades the
		// nested-execution check to a single pseudo-goroutine).
		return 0
	}
	return id
}

var gidBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Cell is a goroutine-local slot for a single pointer-shaped value.
type Cell[T any] struct {
	mu sync.Mutex
	m  map[int64]T
}

// NewCell constructs an empty Cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{m: make(map[int64]T)}
}

// Get returns the value bound to the calling goroutine, if any.
func (c *Cell[T]) Get() (v T, ok bool) {
	id := Current()
	c.mu.Lock()
	v, ok = c.m[id]
	c.mu.Unlock()
	return v, ok
}

// Bind associates v with the calling goroutine until Unbind is called.
func (c *Cell[T]) Bind(v T) {
	id := Current()
	c.mu.Lock()
	c.m[id] = v
	c.mu.Unlock()
}

// Unbind clears any value associated with the calling goroutine.
func (c *Cell[T]) Unbind() {
	id := Current()
	c.mu.Lock()
	delete(c.m, id)
	c.mu.Unlock()
}
