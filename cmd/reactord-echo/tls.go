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
	"context"
	"crypto/tls"
	"io"
	"net"

	"github.com/nabbar/reactor/lifecycle"
	"github.com/nabbar/reactor/logger"
)

// startTLSEcho runs a conventional, blocking-I/O TLS echo listener
// alongside the reactor core rather than through it. crypto/tls assumes a
// blocking net.Conn with one goroutine per connection driving its
// handshake and record layer; bridging that onto an edge-triggered
// non-blocking fd is exactly the transport-termination work rwhook.Hook
// exists to delegate to, but doing it properly is out of scope for a byte
// echo example, so this instead shows the simpler shape: terminate TLS
// with the standard library's own listener, then hand plaintext bytes to
// the same kind of echo loop the non-blocking core runs per connection.
func startTLSEcho(lc *lifecycle.Lifecycle, addr, certFile, keyFile string, log logger.Logger) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		log.Error("failed to load TLS keypair", err)
		return
	}

	ln, err := tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		log.Error("failed to start TLS listener", err)
		return
	}

	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			go echoConn(conn)
		}
	}()

	lc.OnShutdown(func(context.Context) error {
		return ln.Close()
	})
}

func echoConn(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				return
			}
			return
		}
	}
}
