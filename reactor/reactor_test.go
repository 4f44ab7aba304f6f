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

package reactor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/reactor"
	"github.com/nabbar/reactor/registry"
	"github.com/nabbar/reactor/writequeue"
)

// fakeDemux lets reactor tests drive specific event batches without a real
// kernel poller.
type fakeDemux struct {
	mu      sync.Mutex
	batches [][]demux.Event
	detach  map[int]bool
}

func newFakeDemux(batches [][]demux.Event) *fakeDemux {
	return &fakeDemux{batches: batches, detach: make(map[int]bool)}
}

func (d *fakeDemux) Attach(int, handle.Handle) error           { return nil }
func (d *fakeDemux) AttachTimer(int, handle.Handle, int) error { return nil }
func (d *fakeDemux) Close() error                              { return nil }

func (d *fakeDemux) Detach(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detach[fd] = true
	return nil
}

func (d *fakeDemux) Wait(int) ([]demux.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.batches) == 0 {
		return nil, nil
	}
	next := d.batches[0]
	d.batches = d.batches[1:]
	return next, nil
}

type recordingProto struct {
	tag      string
	dataHits int32
	closed   int32
}

func (p *recordingProto) ServiceTag() string       { return p.tag }
func (p *recordingProto) OnData(handle.Handle)     { atomic.AddInt32(&p.dataHits, 1) }
func (p *recordingProto) OnReady(handle.Handle)    {}
func (p *recordingProto) OnShutdown(handle.Handle) {}
func (p *recordingProto) OnClose()                 { atomic.AddInt32(&p.closed, 1) }
func (p *recordingProto) Ping(handle.Handle)       {}

func TestReactorDispatchesOnDataForReadableEvent(t *testing.T) {
	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	reg := registry.New(4, pool)
	h, _ := reg.Open(1, nil)
	p := &recordingProto{tag: "echo"}
	_, _ = reg.SetProtocol(h, p)

	disp := dispatcher.New(2, 8, reg, nil)
	disp.Start()
	defer disp.Stop()

	dx := newFakeDemux([][]demux.Event{
		{{FD: 1, Readable: true}},
	})

	rx := reactor.New(dx, reg, disp, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = rx.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&p.dataHits) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("OnData was never invoked")
}

func TestReactorClosesConnectionOnErrorEvent(t *testing.T) {
	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	reg := registry.New(4, pool)
	h, _ := reg.Open(2, nil)
	p := &recordingProto{tag: "echo"}
	_, _ = reg.SetProtocol(h, p)

	disp := dispatcher.New(2, 8, reg, nil)
	disp.Start()
	defer disp.Stop()

	dx := newFakeDemux([][]demux.Event{
		{{FD: 2, Error: true}},
	})

	rx := reactor.New(dx, reg, disp, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = rx.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&p.closed) > 0 {
			if reg.Validate(h) {
				t.Fatalf("handle should be invalid after close")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("OnClose was never invoked")
}

func TestReactorIdleHookFiresOnEmptyTicks(t *testing.T) {
	pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
	reg := registry.New(4, pool)
	disp := dispatcher.New(1, 8, reg, nil)
	disp.Start()
	defer disp.Stop()

	dx := newFakeDemux([][]demux.Event{{}, {}, {}})

	var streaks int32
	rx := reactor.New(dx, reg, disp, nil,
		reactor.WithTick(10*time.Millisecond),
		reactor.WithIdleHook(func(streak int) {
			atomic.StoreInt32(&streaks, int32(streak))
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = rx.Run(ctx)

	if atomic.LoadInt32(&streaks) == 0 {
		t.Fatalf("expected idle hook to have fired at least once")
	}
}
