// SPDX-License-Identifier: AGPL-3.0-only
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>

package pool

import (
	"sync"
)

type Pool[T any] struct {
	pool sync.Pool
}

//nolint:forcetypeassert
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(t T) {
	p.pool.Put(t)
}

func New[T any, F func() T](fn F) *Pool[T] {
	if fn == nil {
		panic("missing new function")
	}

	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return fn()
			},
		},
	}
}

// Buffer is a datagram buffer with fixed capacity.
type Buffer struct {
	B []byte
}

// Full returns the buffer resliced to its whole capacity, ready for a read.
func (b *Buffer) Full() []byte {
	return b.B[:cap(b.B)]
}

// NewBuffers returns a pool of buffers that can each hold size bytes.
func NewBuffers(size int) *Pool[*Buffer] {
	return New(func() *Buffer {
		return &Buffer{B: make([]byte, size)}
	})
}
