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

// Package writequeue implements the per-connection ordered outgoing packet
// queue: in-memory and file-backed packets, urgent insertion, streaming
// file chunking and deferred close-after-drain.
package writequeue

// Flags controls how a packet is inserted and how it behaves once drained.
type Flags uint8

const (
	// Urgent packets are inserted before the first interruptible packet
	// in the queue instead of appended at the tail.
	Urgent Flags = 1 << iota
	// CanInterrupt marks a packet as displaceable by urgent insertion,
	// only before any of its bytes have gone out on the wire.
	CanInterrupt
	// CloseAfter requests the connection be closed once this packet, and
	// everything queued before it, has fully drained.
	CloseAfter
	// KeepOpen (file packets only) asks the queue not to close the source
	// fd once the packet has drained.
	KeepOpen
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

type kind uint8

const (
	kindMemory kind = iota
	kindFile
)

// packet is one element of a connection's write queue. Drawn from a Pool
// for amortised allocation; large writes are split into a chain of these.
type packet struct {
	next  *packet
	kind  kind
	flags Flags

	// memory packet fields
	buf    []byte
	offset int

	// file packet fields
	fd        int
	fileOff   int64
	remaining int64
}

func (p *packet) canInterrupt() bool {
	return p.flags.has(CanInterrupt)
}

func (p *packet) closeAfter() bool {
	return p.flags.has(CloseAfter)
}

func (p *packet) reset() {
	p.next = nil
	p.kind = kindMemory
	p.flags = 0
	p.buf = p.buf[:0]
	p.offset = 0
	p.fd = -1
	p.fileOff = 0
	p.remaining = 0
}
