package bm

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

func New() *Bitmap {
	return &Bitmap{
		bm: roaring.New(),
	}
}

// Bitmap is thread-safe bitmap wrapper
type Bitmap struct {
	bm *roaring.Bitmap
	m  sync.RWMutex
}

func (b *Bitmap) Count() uint32 {
	b.m.RLock()
	v := uint32(b.bm.GetCardinality())
	b.m.RUnlock()
	return v
}

func (b *Bitmap) Set(i uint32) {
	b.m.Lock()
	b.bm.Add(i)
	b.m.Unlock()
}

func (b *Bitmap) Get(i uint32) bool {
	b.m.RLock()
	v := b.bm.Contains(i)
	b.m.RUnlock()
	return v
}
