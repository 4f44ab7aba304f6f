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

// Package server assembles every core package into the single public API an
// embedding application uses: bind listeners, run the reactor, push bytes
// and tasks at connections, and shut down cleanly.
package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nabbar/reactor/config"
	"github.com/nabbar/reactor/demux"
	"github.com/nabbar/reactor/dispatcher"
	"github.com/nabbar/reactor/errs"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/listenerproto"
	"github.com/nabbar/reactor/logger"
	"github.com/nabbar/reactor/metrics"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/reactor"
	"github.com/nabbar/reactor/registry"
	"github.com/nabbar/reactor/writequeue"
)

// Server wires a Registry, a write-queue Pool, a Demux, a dispatcher.Pool
// and a Reactor into one runnable unit bound to one Config.
type Server struct {
	cfg *config.Config
	log logger.Logger

	pool *writequeue.Pool
	reg  *registry.Registry
	dx   demux.Demux
	disp *dispatcher.Pool
	rx   *reactor.Reactor

	metrics *metrics.Collectors

	mu        sync.Mutex
	factories map[string]listenerproto.Factory
	listeners []*listenerproto.Listener

	timerIdent int64 // non-Linux timer ident allocator, see reserveTimerIdent

	cancel  context.CancelFunc
	stopped chan struct{}
}

// New validates cfg and assembles every core component, but binds no
// sockets and starts no goroutines yet; call RegisterFactory for each
// configured listener tag, then Run.
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	log.SetLevel(cfg.LogLevel)
	return newServer(cfg, log)
}

func newServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	wqPool := writequeue.NewPool(cfg.PacketPoolSize, writequeue.OverflowAllocate)
	reg := registry.New(cfg.Capacity, wqPool)
	if secs := int64(cfg.IdleTimeout.Time().Seconds()); secs > 0 {
		reg.SetDefaultTimeout(secs)
	}

	dx, err := demux.New()
	if err != nil {
		return nil, errs.Wrap(errs.ErrDemuxFatal, err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var dispOpts []dispatcher.Option
	if cfg.Sentinel {
		dispOpts = append(dispOpts, dispatcher.WithSentinel())
	}
	disp := dispatcher.New(workers, cfg.QueueDepth, reg, log, dispOpts...)

	rx := reactor.New(dx, reg, disp, log, reactor.WithTick(cfg.Tick.Time()))

	return &Server{
		cfg:        cfg,
		log:        log,
		pool:       wqPool,
		reg:        reg,
		dx:         dx,
		disp:       disp,
		rx:         rx,
		metrics:    metrics.New("reactor"),
		factories:  make(map[string]listenerproto.Factory),
		timerIdent: int64(cfg.Capacity - 1),
		stopped:    make(chan struct{}),
	}, nil
}

// RegisterFactory associates a connection Protocol factory with a
// configured listener tag. Must be called before Run for every tag present
// in Config.Listeners.
func (s *Server) RegisterFactory(tag string, f listenerproto.Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[tag] = f
}

// Registry exposes the underlying Registry for advanced callers (custom
// protocols that need SetTimeout/SetHook beyond what Server wraps).
func (s *Server) Registry() *registry.Registry { return s.reg }

// Metrics returns the server's Prometheus collectors, for the caller to
// register against its own prometheus.Registerer.
func (s *Server) Metrics() *metrics.Collectors { return s.metrics }

// bindListeners opens and registers one listening socket per configured
// listener whose tag has a registered Factory.
func (s *Server) bindListeners() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lc := range s.cfg.Listeners {
		build, ok := s.factories[lc.Tag]
		if !ok {
			return fmt.Errorf("server: no protocol factory registered for listener tag %q", lc.Tag)
		}

		host, portStr, err := net.SplitHostPort(lc.Address)
		if err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}
		if host == "" || host == "0.0.0.0" {
			host = "0.0.0.0"
		}

		fd, err := listenerproto.ListenTCP(normalizeIP(host), port, lc.Backlog)
		if err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}

		guard := int64(s.cfg.Capacity - s.cfg.Margin)
		l := listenerproto.New(fd, lc.Tag, s.reg, s.dx, s.disp, s.log, guard, build)

		h, err := s.reg.Open(fd, nil)
		if err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}
		if _, err = s.reg.SetProtocol(h, l); err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}
		if err = s.dx.Attach(fd, h); err != nil {
			return errs.Wrap(errs.ErrListenFailed, err)
		}

		s.listeners = append(s.listeners, l)
	}
	return nil
}

// normalizeIP turns "0.0.0.0" or an empty host into the all-zero bind
// address ListenTCP expects; any other literal IPv4 passes through as-is.
func normalizeIP(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "0.0.0.0"
	}
	return host
}

// Listen binds every configured listener socket without starting the
// dispatcher or the reactor loop. Run calls it automatically; callers that
// want to surface bind errors (e.g. "address already in use") before
// committing to Run's blocking call can invoke it directly first. Calling
// it twice is a no-op error, since a listener's fd can only be opened once.
func (s *Server) Listen() error {
	return s.bindListeners()
}

// Run binds every configured listener not already bound by a prior Listen
// call, starts the dispatcher and the reactor's event loop, and blocks
// until ctx is cancelled or Stop is called. It always returns a non-nil
// error: on a clean stop, ctx.Err(), or context.Canceled when Stop ended it.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	alreadyBound := len(s.listeners) > 0
	s.mu.Unlock()

	if !alreadyBound {
		if err := s.bindListeners(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.disp.Start()
	defer s.disp.Stop()
	defer close(s.stopped)

	err := s.rx.Run(ctx)

	s.broadcastShutdown()
	s.drainBeforeExit()

	return err
}

// Stop requests a graceful shutdown of a Server currently blocked in Run,
// equivalent to cancelling the context Run was given. It is a no-op if Run
// has not been called yet or has already returned.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// broadcastShutdown calls OnShutdown on every currently open slot, holding
// that slot's busy lock like any other non-OnClose callback.
func (s *Server) broadcastShutdown() {
	s.reg.Visit(0, "", func(h handle.Handle, p protocol.Protocol) bool {
		fd := h.FD()
		s.reg.LockBusy(fd)
		p.OnShutdown(h)
		s.reg.UnlockBusy(fd)
		return true
	})
}

// drainBeforeExit gives in-flight write queues a short window to flush
// before the process exits, matching the graceful-shutdown invariant that
// a client mid-response is not abruptly reset.
func (s *Server) drainBeforeExit() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.reg.Count("") == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Stopped is closed once Run has returned.
func (s *Server) Stopped() <-chan struct{} { return s.stopped }
