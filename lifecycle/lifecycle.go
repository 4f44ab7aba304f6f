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

// Package lifecycle owns process-level concerns that sit outside any one
// reactor: signal handling, graceful shutdown fan-out, and the optional
// prefork supervisor.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/nabbar/reactor/logger"
)

// Lifecycle coordinates shutdown across every component a server owns.
// Callers register a drain function per component with OnShutdown; Shutdown
// runs them all concurrently and aggregates their errors.
type Lifecycle struct {
	log logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	drain []func(context.Context) error

	sigCh chan os.Signal
}

// New builds a Lifecycle whose Context is cancelled once Shutdown is
// called, or once a watched termination signal arrives.
func New(log logger.Logger) *Lifecycle {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		log:    log.WithField("component", "lifecycle"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled on the first Shutdown call or termination signal.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

// OnShutdown registers fn to run when Shutdown is called. Order across
// registrations is not guaranteed: fn must not depend on another
// registrant's drain having already happened.
func (l *Lifecycle) OnShutdown(fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drain = append(l.drain, fn)
}

// WatchSignals starts a goroutine that cancels the Lifecycle's Context on
// SIGINT/SIGTERM, ignores SIGPIPE (a write to an already-closed peer must
// surface as an EPIPE return value, never kill the process), and reaps
// SIGCHLD so prefork children never become zombies.
func (l *Lifecycle) WatchSignals() {
	l.sigCh = make(chan os.Signal, 8)
	signal.Notify(l.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE, syscall.SIGCHLD)

	go func() {
		for sig := range l.sigCh {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				l.log.Info("received termination signal, shutting down")
				l.cancel()
				return
			case syscall.SIGCHLD:
				reapChildren(l.log)
			case syscall.SIGPIPE:
				// deliberately ignored: writequeue surfaces EPIPE to its
				// caller instead.
			}
		}
	}()
}

// StopWatchingSignals releases the signal channel; tests call this to avoid
// leaking the notify registration across cases.
func (l *Lifecycle) StopWatchingSignals() {
	if l.sigCh != nil {
		signal.Stop(l.sigCh)
		close(l.sigCh)
	}
}

// Shutdown cancels the Context, then runs every registered drain function
// concurrently against ctx, aggregating their errors into one
// *multierror.Error (nil if every drain succeeded).
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.cancel()

	l.mu.Lock()
	fns := make([]func(context.Context) error, len(l.drain))
	copy(fns, l.drain)
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs.ErrorOrNil()
}

func reapChildren(log logger.Logger) {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		log.WithField("pid", pid).Info("reaped prefork child")
	}
}
