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

package main

import (
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/server"
)

// echo is the whole application: read whatever arrived, write it straight
// back. It owns no state beyond the Server it writes through.
type echo struct {
	srv *server.Server
	buf [4096]byte
}

// newEchoFactory builds the listenerproto.Factory bound to srv;
// RegisterFactory installs the same one for every configured listener tag.
func newEchoFactory(srv *server.Server) func(handle.Handle) protocol.Protocol {
	return func(h handle.Handle) protocol.Protocol {
		return &echo{srv: srv}
	}
}

func (e *echo) ServiceTag() string { return "echo" }

func (e *echo) OnData(h handle.Handle) {
	for {
		n, err := e.srv.Read(h, e.buf[:])
		if err != nil {
			// io.EOF here means the peer is gone for good; any other error
			// is treated the same way since there is nothing more this
			// protocol can do with the connection.
			e.srv.CloseConnection(h)
			return
		}
		if n == 0 {
			// Drained for this edge; wait for the next readable event.
			return
		}
		if werr := e.srv.Write(h, append([]byte(nil), e.buf[:n]...), 0); werr != nil {
			e.srv.CloseConnection(h)
			return
		}
	}
}

func (e *echo) OnReady(handle.Handle) {}

func (e *echo) OnShutdown(h handle.Handle) { e.srv.CloseConnection(h) }

func (e *echo) OnClose() {}

func (e *echo) Ping(h handle.Handle) { e.srv.CloseConnection(h) }
