package bufpool

import (
	"go.uber.org/atomic"
)

// Pool sizes used when nothing else is configured.
const (
	DefaultChunkSize = 4096
	DefaultCapacity  = 1024
)

// Default is the process-wide chunk pool.
var Default = New(DefaultChunkSize, DefaultCapacity)

// Chunk is a fixed-size buffer on loan from a Pool.
type Chunk struct {
	B []byte

	pool *Pool
	out  atomic.Bool
}

// Release hands the chunk back to the pool it came from.
func (c *Chunk) Release() {
	c.pool.Put(c)
}

// Pool hands out fixed-size chunks. Idle chunks are kept on a bounded free
// list; when the list is empty a new chunk is allocated, and when it is full
// a returned chunk is left to the garbage collector.
type Pool struct {
	size      int
	free      chan *Chunk
	out       atomic.Int64
	allocated atomic.Int64
}

// New creates a pool of chunkSize-byte chunks keeping at most capacity idle
// chunks around.
func New(chunkSize, capacity int) *Pool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		size: chunkSize,
		free: make(chan *Chunk, capacity),
	}
}

// Get acquires a chunk. Every chunk must be handed back exactly once.
func (p *Pool) Get() *Chunk {
	var c *Chunk
	select {
	case c = <-p.free:
	default:
		c = &Chunk{B: make([]byte, p.size), pool: p}
		p.allocated.Inc()
	}
	c.out.Store(true)
	p.out.Inc()
	return c
}

// Put returns a chunk to the pool. Releasing the same chunk twice panics.
func (p *Pool) Put(c *Chunk) {
	if c == nil {
		return
	}
	if c.pool != p {
		panic("bufpool: chunk returned to a foreign pool")
	}
	if !c.out.CAS(true, false) {
		panic("bufpool: chunk released twice")
	}
	p.out.Dec()
	select {
	case p.free <- c:
	default:
	}
}

// ChunkSize reports the size of every chunk.
func (p *Pool) ChunkSize() int { return p.size }

// Outstanding reports how many chunks are currently on loan.
func (p *Pool) Outstanding() int64 { return p.out.Load() }

// Allocated reports how many chunks the pool has ever allocated.
func (p *Pool) Allocated() int64 { return p.allocated.Load() }
