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

// Package registry owns the flat, fd-indexed slot table: the single source
// of truth mapping a kernel file descriptor to a generational handle, the
// active Protocol, the per-connection write queue and lock, and the
// last-activity timestamp used by the idle watchdog.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/rwhook"
	"github.com/nabbar/reactor/writequeue"
)

// slot is one entry of the registry, one per possible fd value. The slot
// lock guards {generation, open, protocol, hook} transitions; it is held
// only across short operations. The busy lock serialises user callbacks
// for this fd and is held across an entire callback — a much longer span,
// which is why it is a distinct lock from the slot lock (spec §5).
type slot struct {
	mu   sync.Mutex
	busy sync.Mutex

	generation uint32
	open       bool
	pendingClose bool

	proto protocol.Protocol
	hook  rwhook.Hook
	queue *writequeue.Queue

	timeoutSec uint32 // stores a uint8 value; wider for atomic convenience
	lastActive int64  // unix seconds, atomic
}

func (s *slot) handle(fd int) handle.Handle {
	return handle.Make(fd, s.generation)
}
