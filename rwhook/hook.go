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

// Package rwhook declares the optional per-connection read/write
// interceptor extension point (the TLS hook contract). The core ships no
// implementation of Hook; crypto/tls or any other transport wrapper plugs
// in here.
package rwhook

import "github.com/nabbar/reactor/handle"

// Hook intercepts the bytes of one connection. Installing a Hook disables
// sendfile for that connection: file packets fall back to pread + Write.
type Hook interface {
	// Read behaves like a non-blocking read: n > 0 with err == nil on
	// progress, n == 0 with err == ErrWouldBlock when nothing is available,
	// or a transport error otherwise.
	Read(h handle.Handle, buf []byte) (n int, err error)

	// Write behaves like a non-blocking write, same convention as Read.
	Write(h handle.Handle, buf []byte) (n int, err error)

	// Flush reports 0 when the hook has nothing buffered, >0 when more
	// hook-internal data is still pending transmission, <0 on error.
	Flush(h handle.Handle) int

	// OnClear is called with the slot lock held when the connection closes.
	// It must release hook-owned resources without touching the registry
	// for h — the slot is already being torn down.
	OnClear(h handle.Handle)
}
