// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxOutstanding is the byte budget of DefaultPool.
	DefaultMaxOutstanding = 256 * 1024 * 1024
)

var (
	// DefaultTiers are the block sizes used when Config.Tiers is empty.
	DefaultTiers = []int{256, 1024, 4096, 16384, 32768, 65536}

	// DefaultPool is used by the tls adapter when no pool is configured.
	DefaultPool = New(Config{MaxOutstanding: DefaultMaxOutstanding})
)

var (
	// ErrInvalidSize .
	ErrInvalidSize = errors.New("invalid buffer size")
)

// Config .
type Config struct {
	// Tiers are the pooled block sizes. Requests larger than the last tier
	// are allocated directly and dropped on release.
	Tiers []int

	// MaxOutstanding bounds the bytes held by acquired, not yet released
	// buffers. Acquire blocks while the budget is exhausted. 0 means
	// unbounded.
	MaxOutstanding int64
}

// Stats .
type Stats struct {
	Acquired    int64
	Released    int64
	Outstanding int64
	// Misses counts blocks that had to be allocated because the tier was empty.
	Misses int64
}

// Pool is a tiered pool of reference counted buffers.
type Pool struct {
	tiers []int
	pools []sync.Pool
	sem   *semaphore.Weighted
	limit int64

	acquired int64
	released int64
	misses   int64
}

// New .
func New(conf Config) *Pool {
	tiers := append([]int(nil), conf.Tiers...)
	if len(tiers) == 0 {
		tiers = append(tiers, DefaultTiers...)
	}
	sort.Ints(tiers)

	p := &Pool{
		tiers: tiers,
		pools: make([]sync.Pool, len(tiers)),
		limit: conf.MaxOutstanding,
	}
	if conf.MaxOutstanding > 0 {
		p.sem = semaphore.NewWeighted(conf.MaxOutstanding)
	}
	for i := range p.pools {
		size := tiers[i]
		p.pools[i].New = func() interface{} {
			atomic.AddInt64(&p.misses, 1)
			return &Buffer{buf: make([]byte, 0, size)}
		}
	}
	return p
}

func (p *Pool) tierOf(size int) int {
	i := sort.SearchInts(p.tiers, size)
	if i < len(p.tiers) {
		return i
	}
	return -1
}

func (p *Pool) cost(size int) int64 {
	c := int64(size)
	if i := p.tierOf(size); i >= 0 {
		c = int64(p.tiers[i])
	}
	if p.limit > 0 && c > p.limit {
		c = p.limit
	}
	return c
}

// Acquire returns an empty buffer with at least size bytes of capacity and a
// reference count of one. It blocks while the outstanding budget is used up.
func (p *Pool) Acquire(ctx context.Context, size int) (*Buffer, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	c := p.cost(size)
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, c); err != nil {
			return nil, err
		}
	}
	return p.get(size, c), nil
}

// TryAcquire is Acquire without blocking; ok is false when the budget is
// exhausted.
func (p *Pool) TryAcquire(size int) (b *Buffer, ok bool) {
	if size < 0 {
		return nil, false
	}
	c := p.cost(size)
	if p.sem != nil && !p.sem.TryAcquire(c) {
		return nil, false
	}
	return p.get(size, c), true
}

func (p *Pool) get(size int, cost int64) *Buffer {
	var b *Buffer
	tier := p.tierOf(size)
	if tier >= 0 {
		b = p.pools[tier].Get().(*Buffer)
		b.buf = b.buf[:0]
	} else {
		b = &Buffer{buf: make([]byte, 0, size)}
	}
	b.pool = p
	b.tier = tier
	b.cost = cost
	atomic.StoreInt32(&b.refs, 1)
	atomic.AddInt64(&p.acquired, 1)
	return b
}

func (p *Pool) put(b *Buffer) {
	atomic.AddInt64(&p.released, 1)
	if p.sem != nil {
		p.sem.Release(b.cost)
	}
	tier := b.tier
	b.pool = nil
	if tier >= 0 {
		b.buf = b.buf[:0]
		p.pools[tier].Put(b)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	acquired := atomic.LoadInt64(&p.acquired)
	released := atomic.LoadInt64(&p.released)
	return Stats{
		Acquired:    acquired,
		Released:    released,
		Outstanding: acquired - released,
		Misses:      atomic.LoadInt64(&p.misses),
	}
}

// Acquire acquires from DefaultPool.
func Acquire(ctx context.Context, size int) (*Buffer, error) {
	return DefaultPool.Acquire(ctx, size)
}
