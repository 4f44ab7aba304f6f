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

package listenerproto_test

import (
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/listenerproto"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
	"github.com/nabbar/reactor/writequeue"
)

type noopDemux struct{}

func (noopDemux) Attach(int, handle.Handle) error           { return nil }
func (noopDemux) Detach(int) error                          { return nil }
func (noopDemux) AttachTimer(int, handle.Handle, int) error { return nil }
func (noopDemux) Wait(int) ([]demux.Event, error)           { return nil, nil }
func (noopDemux) Close() error                              { return nil }

type echoProto struct {
	ready int32
}

func (p *echoProto) ServiceTag() string       { return "" }
func (p *echoProto) OnData(handle.Handle)     {}
func (p *echoProto) OnReady(handle.Handle)    { atomic.AddInt32(&p.ready, 1) }
func (p *echoProto) OnShutdown(handle.Handle) {}
func (p *echoProto) OnClose()                 {}
func (p *echoProto) Ping(handle.Handle)       {}

func listenOnFreePort(t *testing.T) (fd int, port int) {
	t.Helper()
	fd, err := listenerproto.ListenTCP("127.0.0.1", 0, 16)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", sa)
	}
	return fd, sa4.Port
}

func TestListenerAcceptsAndRegistersConnection(t *testing.T) {
	fd, port := listenOnFreePort(t)
	defer unix.Close(fd)

	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	reg := registry.New(64, pool)
	disp := dispatcher.New(2, 8, reg, nil)
	disp.Start()
	defer disp.Stop()

	var built *echoProto
	l := listenerproto.New(fd, "http", reg, noopDemux{}, disp, nil, 4, func(handle.Handle) protocol.Protocol {
		built = &echoProto{}
		return built
	})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	l.OnData(0)

	if reg.Count("") != 1 {
		t.Fatalf("expected exactly one registered connection, got %d", reg.Count(""))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if built != nil && atomic.LoadInt32(&built.ready) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("OnReady was never invoked on the accepted connection")
}

func TestListenerRejectsOverCapacity(t *testing.T) {
	fd, port := listenOnFreePort(t)
	defer unix.Close(fd)

	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	reg := registry.New(64, pool)
	disp := dispatcher.New(2, 8, reg, nil)
	disp.Start()
	defer disp.Stop()

	l := listenerproto.New(fd, "http", reg, noopDemux{}, disp, nil, 1, func(handle.Handle) protocol.Protocol {
		return &echoProto{}
	})

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	l.OnData(0)

	if reg.Count("") != 1 {
		t.Fatalf("expected capacity to admit exactly one connection, got %d", reg.Count(""))
	}
}
