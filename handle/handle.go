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

// Package handle defines the generational connection identifier used
// throughout the reactor core in place of a raw file descriptor.
//
// The original C runtime packs a raw fd and a per-slot generation counter
// into one 64-bit "uuid" so a stale handle referring to a closed socket can
// never alias a freshly accept()-ed one that reused the same fd number. This
// package models the same bit-packing but names the type for what it is: a
// generational handle, not a real RFC-4122 UUID.
package handle

import "fmt"

// Handle is a 64-bit opaque connection identifier: the low 32 bits are the
// raw fd, the high 32 bits are the slot's generation counter at the time
// this Handle was minted. The zero Handle never denotes an open connection.
type Handle uint64

// Make packs an fd and a generation into a Handle.
func Make(fd int, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(uint32(fd)))
}

// FD extracts the file descriptor half of the Handle.
func (h Handle) FD() int {
	return int(uint32(h))
}

// Generation extracts the generation-counter half of the Handle.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

// Zero reports whether this Handle is the zero value (never a live slot).
func (h Handle) Zero() bool {
	return h == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("handle(fd=%d,gen=%d)", h.FD(), h.Generation())
}
