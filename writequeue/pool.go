/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package writequeue

import "sync"

// DefaultPoolSize matches the original runtime's fixed packet pool size.
const DefaultPoolSize = 248

// OverflowPolicy decides what Checkout does once the pool is exhausted.
type OverflowPolicy uint8

const (
	// OverflowAllocate allocates a fresh packet outside the pool; it is
	// discarded (not returned) on release.
	OverflowAllocate OverflowPolicy = iota
	// OverflowBlock waits for a packet to be released back to the pool.
	OverflowBlock
)

// Pool is a fixed-size free list of packets shared by every connection's
// Queue, avoiding one allocation per enqueued write.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	free     []*packet
	overflow OverflowPolicy
	cap      int
}

// NewPool builds a Pool of size capacity. A capacity <= 0 uses
// DefaultPoolSize.
func NewPool(capacity int, overflow OverflowPolicy) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolSize
	}
	p := &Pool{
		free:     make([]*packet, 0, capacity),
		overflow: overflow,
		cap:      capacity,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &packet{fd: -1})
	}
	return p
}

// checkout obtains a packet, either from the free list, by blocking for one
// to be released (OverflowBlock), or by allocating one outside the pool
// (OverflowAllocate).
func (p *Pool) checkout() *packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.free) == 0 {
		if p.overflow == OverflowAllocate {
			return &packet{fd: -1}
		}
		p.cond.Wait()
	}
	n := len(p.free) - 1
	pk := p.free[n]
	p.free = p.free[:n]
	return pk
}

// release returns a pool-owned packet to the free list. Packets allocated
// during overflow are simply dropped (nothing to release them to).
func (p *Pool) release(pk *packet) {
	pk.reset()
	p.mu.Lock()
	if len(p.free) < p.cap {
		p.free = append(p.free, pk)
		p.cond.Signal()
	}
	p.mu.Unlock()
}

// Len reports the number of currently free packets, for tests and metrics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
