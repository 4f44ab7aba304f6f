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

package dispatcher_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
	"github.com/nabbar/reactor/writequeue"
)

type countProto struct {
	tag  string
	hits int32
}

func (c *countProto) ServiceTag() string       { return c.tag }
func (c *countProto) OnData(handle.Handle)     {}
func (c *countProto) OnReady(handle.Handle)    {}
func (c *countProto) OnShutdown(handle.Handle) {}
func (c *countProto) OnClose()                 {}
func (c *countProto) Ping(handle.Handle)       { atomic.AddInt32(&c.hits, 1) }

func newRegistry(capacity int) *registry.Registry {
	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	return registry.New(capacity, pool)
}

func TestSubmitRunsTaskAgainstValidHandle(t *testing.T) {
	reg := newRegistry(4)
	h, err := reg.Open(1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	p := dispatcher.New(2, 8, reg, nil)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	ok := p.Submit(protocol.Task{
		Handle: h,
		Fn: func(got handle.Handle, _ interface{}) {
			ran = got == h
			wg.Done()
		},
	})
	if !ok {
		t.Fatalf("Submit returned false")
	}

	waitOrTimeout(t, &wg, time.Second)
	if !ran {
		t.Fatalf("task did not run against expected handle")
	}
}

func TestSubmitFallsBackOnStaleHandle(t *testing.T) {
	reg := newRegistry(4)
	h, _ := reg.Open(2, nil)
	_, _ = reg.Clear(h)

	p := dispatcher.New(2, 8, reg, nil)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	fellBack := false

	p.Submit(protocol.Task{
		Handle: h,
		Fn: func(handle.Handle, interface{}) {
			t.Errorf("Fn must not run for a stale handle")
		},
		Fallback: func(handle.Handle, interface{}) {
			fellBack = true
			wg.Done()
		},
	})

	waitOrTimeout(t, &wg, time.Second)
	if !fellBack {
		t.Fatalf("expected fallback to run")
	}
}

func TestBroadcastVisitsEveryMatchingSlotExceptOrigin(t *testing.T) {
	reg := newRegistry(8)

	protos := make([]*countProto, 0, 5)
	var origin handle.Handle
	for fd := 0; fd < 5; fd++ {
		h, _ := reg.Open(fd, nil)
		p := &countProto{tag: "room"}
		_, _ = reg.SetProtocol(h, p)
		protos = append(protos, p)
		if fd == 0 {
			origin = h
		}
	}

	p := dispatcher.New(2, 8, reg, nil)
	p.Start()
	defer p.Stop()

	var visited int32
	var wg sync.WaitGroup
	wg.Add(1)

	p.SubmitBroadcast(protocol.Broadcast{
		OriginHandle: origin,
		Tag:          "room",
		Fn: func(handle.Handle, interface{}) {
			atomic.AddInt32(&visited, 1)
		},
		OnFinish: func(handle.Handle, interface{}) {
			wg.Done()
		},
	})

	waitOrTimeout(t, &wg, 2*time.Second)
	if got := atomic.LoadInt32(&visited); got != 4 {
		t.Fatalf("expected 4 visits (5 slots minus origin), got %d", got)
	}
}

func TestWorkerRespawnsAfterPanic(t *testing.T) {
	reg := newRegistry(4)
	h, _ := reg.Open(1, nil)

	p := dispatcher.New(1, 8, reg, nil, dispatcher.WithSentinel())
	p.Start()
	defer p.Stop()

	p.Submit(protocol.Task{
		Handle: h,
		Fn: func(handle.Handle, interface{}) {
			panic("boom")
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	recovered := false

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok := p.Submit(protocol.Task{
			Handle: h,
			Fn: func(handle.Handle, interface{}) {
				recovered = true
				wg.Done()
			},
		})
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	waitOrTimeout(t, &wg, 2*time.Second)
	if !recovered {
		t.Fatalf("worker pool did not recover after panic")
	}
	if p.Respawns() == 0 {
		t.Fatalf("expected at least one recorded respawn")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for async work")
	}
}
