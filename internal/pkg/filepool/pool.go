package filepool

import (
	"io/fs"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
)

// Pool keeps read-only file handles open between requests.
// Handles are shared, so callers must only use positioned reads on them.
//
// A handle unused for longer than ttl is reopened on its next Open and
// closed by Expire. The pool starts no goroutines.
type Pool struct {
	lru *lru.Cache[string, *File]
	ttl time.Duration
	m   sync.Mutex
}

func New(size int, ttl time.Duration) *Pool {
	return &Pool{
		// only fails on a non-positive size
		lru: lo.Must(lru.NewWithEvict[string, *File](max(size, 1), onEvict)),
		ttl: ttl,
	}
}

func onEvict(_ string, f *File) {
	f.evict()
}

// Open returns a handle for path. info is a fresh stat of path; a cached handle
// that no longer refers to the same file is dropped and the path reopened.
// The returned handle must be given back with Release.
func (p *Pool) Open(path string, info fs.FileInfo) (*File, error) {
	p.m.Lock()
	defer p.m.Unlock()

	now := time.Now()

	if f, ok := p.lru.Get(path); ok {
		if !p.expired(f, now) && f.same(info) && f.acquire() {
			f.used = now
			return f, nil
		}

		p.lru.Remove(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	f := &File{File: file, stat: stat, refs: 1, used: now}
	p.lru.Add(path, f)

	return f, nil
}

// Expire closes the handles unused for longer than ttl and returns how many it dropped.
func (p *Pool) Expire() int {
	p.m.Lock()
	defer p.m.Unlock()

	now := time.Now()

	var n int
	for {
		path, f, ok := p.lru.GetOldest()
		if !ok || !p.expired(f, now) {
			return n
		}

		p.lru.Remove(path)
		n++
	}
}

func (p *Pool) expired(f *File, now time.Time) bool {
	return p.ttl > 0 && now.Sub(f.used) > p.ttl
}

// Len is the number of cached handles.
func (p *Pool) Len() int {
	return p.lru.Len()
}

// Purge closes every cached handle once its current users release it.
func (p *Pool) Purge() {
	p.m.Lock()
	p.lru.Purge()
	p.m.Unlock()
}

// File is an item in the pool.
type File struct {
	File *os.File
	stat fs.FileInfo
	// last Open, guarded by the pool lock
	used time.Time

	m       sync.Mutex
	refs    int
	evicted bool
}

func (f *File) same(info fs.FileInfo) bool {
	return info != nil && os.SameFile(f.stat, info)
}

func (f *File) acquire() bool {
	f.m.Lock()
	defer f.m.Unlock()

	if f.evicted {
		return false
	}

	f.refs++
	return true
}

func (f *File) evict() {
	f.m.Lock()
	defer f.m.Unlock()

	f.evicted = true
	if f.refs == 0 {
		_ = f.File.Close()
	}
}

// Release gives the handle back to the pool.
func (f *File) Release() {
	f.m.Lock()
	defer f.m.Unlock()

	f.refs--
	if f.evicted && f.refs == 0 {
		_ = f.File.Close()
	}
}
