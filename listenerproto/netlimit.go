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

package listenerproto

import (
	"net"

	"golang.org/x/net/netutil"
)

// ListenLimited opens a standard net.Listener (not the raw edge-triggered
// fd ListenTCP produces) wrapped in a hard cap on simultaneously open
// accepted connections (no cap when capacity <= 0). It is meant
// for a server's side-channel listeners, a metrics or debug HTTP endpoint
// run alongside the reactor rather than through it, where the belt-and-
// braces cap is simpler to express against net/http's own Accept loop than
// by threading the capacity semaphore through it a second time.
func ListenLimited(network, address string, capacity int) (net.Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return ln, nil
	}
	return netutil.LimitListener(ln, capacity), nil
}
