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

package registry

import (
	"sync/atomic"
	"time"

	"github.com/nabbar/reactor/errs"
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/rwhook"
	"github.com/nabbar/reactor/writequeue"
)

// DefaultIdleTimeoutSec is the watchdog period WalkTimeouts falls back to
// for a slot that never called SetTimeout (timeout_s == 0).
const DefaultIdleTimeoutSec = 300

// Registry is a contiguous, fixed-capacity slot table, so every public
// lookup is O(1). Its size is the capacity passed to New (server.New passes
// Config.Capacity); RLIMIT_NOFILE is neither read nor raised.
type Registry struct {
	slots []slot
	pool  *writequeue.Pool
	clock func() int64

	defaultTimeoutSec int64 // atomic; 0 means the watchdog is off by default
}

// New builds a Registry with room for `capacity` simultaneous fds, drawing
// write-queue packets from pool. The idle watchdog default is
// DefaultIdleTimeoutSec until overridden by SetDefaultTimeout.
func New(capacity int, pool *writequeue.Pool) *Registry {
	return &Registry{
		slots:             make([]slot, capacity),
		pool:              pool,
		clock:             func() int64 { return time.Now().Unix() },
		defaultTimeoutSec: DefaultIdleTimeoutSec,
	}
}

// SetDefaultTimeout overrides the fallback idle timeout applied by
// WalkTimeouts to a slot whose own timeout_s is 0, i.e. one that never
// called SetTimeout. A zero value here disables the watchdog for those
// slots entirely; it does not affect a slot with an explicit non-zero
// timeout of its own.
func (r *Registry) SetDefaultTimeout(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	atomic.StoreInt64(&r.defaultTimeoutSec, seconds)
}

// Capacity returns the fixed slot count.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

func (r *Registry) slotFor(fd int) (*slot, error) {
	if fd < 0 || fd >= len(r.slots) {
		return nil, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	return &r.slots[fd], nil
}

// Open claims the slot for fd, bumping its generation counter, and returns
// the freshly minted Handle. The slot must currently be unused or closed.
func (r *Registry) Open(fd int, hook rwhook.Hook) (handle.Handle, error) {
	s, err := r.slotFor(fd)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return 0, errs.New(errs.CodeResourceExhausted, "fd slot already open", nil)
	}

	s.generation++
	if s.generation == 0 {
		s.generation = 1 // generation 0 is reserved to mean "unused"
	}
	s.open = true
	s.pendingClose = false
	s.hook = hook
	h := s.handle(fd)
	s.queue = writequeue.New(r.pool, h, fd, hook)
	atomic.StoreInt64(&s.lastActive, r.clock())
	atomic.StoreUint32(&s.timeoutSec, 0)

	return h, nil
}

// Validate reports whether h still refers to the slot that minted it.
func (r *Registry) Validate(h handle.Handle) bool {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && s.generation == h.Generation()
}

// CurrentHandle returns the live Handle presently bound to fd, if any. The
// demux reports readiness by fd only; this is how the reactor recovers the
// generation-qualified Handle to pass into a Protocol callback.
func (r *Registry) CurrentHandle(fd int) (handle.Handle, bool) {
	s, err := r.slotFor(fd)
	if err != nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, false
	}
	return s.handle(fd), true
}

// Protocol returns the active Protocol for h, or an error if h is stale.
func (r *Registry) Protocol(h handle.Handle) (protocol.Protocol, error) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.generation != h.Generation() {
		return nil, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	return s.proto, nil
}

// SetProtocol atomically swaps the Protocol installed on h, returning the
// previous Protocol (nil if none) so the caller can schedule its OnClose.
// The swap succeeds immediately even if a callback for h is in flight; per
// spec §9's Open Question, the old Protocol's OnClose is the caller's
// responsibility to defer until that callback returns.
func (r *Registry) SetProtocol(h handle.Handle, p protocol.Protocol) (protocol.Protocol, error) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.generation != h.Generation() {
		return nil, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	old := s.proto
	s.proto = p
	return old, nil
}

// SetHook installs or clears the RWHook for h.
func (r *Registry) SetHook(h handle.Handle, hook rwhook.Hook) error {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.generation != h.Generation() {
		return errs.Wrap(errs.ErrStaleHandle, nil)
	}
	s.hook = hook
	if s.queue != nil {
		s.queue.SetHook(hook)
	}
	return nil
}

// SetTimeout writes timeout_s without taking the slot lock: racy reads are
// tolerated since the idle watchdog is best-effort (spec §4.4).
func (r *Registry) SetTimeout(h handle.Handle, seconds uint8) error {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return err
	}
	if !r.Validate(h) {
		return errs.Wrap(errs.ErrStaleHandle, nil)
	}
	atomic.StoreUint32(&s.timeoutSec, uint32(seconds))
	return nil
}

// GetTimeout reads the current idle timeout for h, in seconds.
func (r *Registry) GetTimeout(h handle.Handle) (uint8, error) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return 0, err
	}
	if !r.Validate(h) {
		return 0, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	return uint8(atomic.LoadUint32(&s.timeoutSec)), nil
}

// Touch records the current tick as h's last-activity time. Monotone
// non-decreasing per spec's invariant, since ticks only advance forward.
func (r *Registry) Touch(h handle.Handle, tick int64) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return
	}
	for {
		cur := atomic.LoadInt64(&s.lastActive)
		if tick <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.lastActive, cur, tick) {
			return
		}
	}
}

// Queue returns the write queue bound to h.
func (r *Registry) Queue(h handle.Handle) (*writequeue.Queue, error) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.generation != h.Generation() {
		return nil, errs.Wrap(errs.ErrStaleHandle, nil)
	}
	return s.queue, nil
}

// MarkPendingClose flags h for close-after-drain without tearing it down
// yet; Clear performs the actual teardown once the caller is ready.
func (r *Registry) MarkPendingClose(h handle.Handle) error {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.generation != h.Generation() {
		return errs.Wrap(errs.ErrStaleHandle, nil)
	}
	s.pendingClose = true
	return nil
}

// IsPendingClose reports whether h has been marked for close.
func (r *Registry) IsPendingClose(h handle.Handle) bool {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.open || s.generation != h.Generation() || s.pendingClose
}

// Clear tears down the slot for h: swaps out the Protocol, frees the write
// queue, calls the hook's OnClear under the slot lock, then zeroes the slot
// and marks it closed, so Validate rejects h from here on; the next Open of
// the fd bumps the generation, so a stale Handle can never alias the fd's
// next use. It returns the old Protocol so the caller can schedule its OnClose
// off-lock, per spec §4.4.
func (r *Registry) Clear(h handle.Handle) (protocol.Protocol, error) {
	s, err := r.slotFor(h.FD())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || s.generation != h.Generation() {
		return nil, errs.Wrap(errs.ErrStaleHandle, nil)
	}

	old := s.proto
	hook := s.hook

	if hook != nil {
		hook.OnClear(h)
	}

	s.proto = nil
	s.hook = nil
	s.queue = nil
	s.open = false
	s.pendingClose = false
	atomic.StoreInt64(&s.lastActive, 0)
	atomic.StoreUint32(&s.timeoutSec, 0)

	return old, nil
}

// LockBusy blocks until fd's busy lock (the user-callback exclusion lock)
// is acquired. Used by the close pipeline to wait out any in-flight
// callback before invoking OnClose, per spec's on-close-uniqueness
// invariant. Addressed by fd, not Handle: by then Clear has marked the slot
// closed, so the Handle no longer validates, while the busy lock lives on
// with the slot.
func (r *Registry) LockBusy(fd int) {
	s, err := r.slotFor(fd)
	if err != nil {
		return
	}
	s.busy.Lock()
}

// UnlockBusy releases fd's busy lock.
func (r *Registry) UnlockBusy(fd int) {
	s, err := r.slotFor(fd)
	if err != nil {
		return
	}
	s.busy.Unlock()
}

// TryLockBusy attempts to acquire fd's busy lock without blocking; the
// dispatcher re-enqueues a task rather than wait when this returns false.
func (r *Registry) TryLockBusy(fd int) bool {
	s, err := r.slotFor(fd)
	if err != nil {
		return false
	}
	return s.busy.TryLock()
}

// Count reports the number of open slots, optionally filtered to those
// whose Protocol reports the given service tag (empty tag counts all open
// slots).
func (r *Registry) Count(tag string) int64 {
	var n int64
	for fd := range r.slots {
		s := &r.slots[fd]
		s.mu.Lock()
		if s.open && (tag == "" || (s.proto != nil && s.proto.ServiceTag() == tag)) {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Visit calls fn for every currently open slot whose Protocol carries tag
// (or every open slot if tag is empty), starting at cursor and stopping
// either when fn returns false or the table is exhausted. It returns the
// index to resume from (len(slots) once exhausted), supporting the
// dispatcher's yielding broadcast cursor.
func (r *Registry) Visit(cursor int, tag string, fn func(h handle.Handle, p protocol.Protocol) bool) int {
	for fd := cursor; fd < len(r.slots); fd++ {
		s := &r.slots[fd]
		s.mu.Lock()
		open := s.open
		var h handle.Handle
		var p protocol.Protocol
		if open {
			h = s.handle(fd)
			p = s.proto
		}
		s.mu.Unlock()

		if !open {
			continue
		}
		if tag != "" && (p == nil || p.ServiceTag() != tag) {
			continue
		}
		if !fn(h, p) {
			return fd + 1
		}
	}
	return len(r.slots)
}

// TimeoutEntry is one row of a WalkTimeouts snapshot.
type TimeoutEntry struct {
	Handle     handle.Handle
	TimeoutSec int64
	IdleSec    int64
}

// WalkTimeouts snapshots, for every open slot with an effective timeout,
// how long it has been idle relative to now. A slot with timeout_s == 0
// falls back to the registry's default (DefaultIdleTimeoutSec unless
// SetDefaultTimeout changed it) rather than being exempted from the sweep;
// only a default of exactly zero disables the watchdog for such a slot.
// The reactor's timeout sweep uses this once per tick (spec §4.6 step 4);
// reads are best-effort (no slot lock held across the whole walk),
// matching the teacher's racy-read tolerance for timeout bookkeeping.
func (r *Registry) WalkTimeouts(now int64) []TimeoutEntry {
	def := atomic.LoadInt64(&r.defaultTimeoutSec)

	var out []TimeoutEntry
	for fd := range r.slots {
		s := &r.slots[fd]
		s.mu.Lock()
		open := s.open
		to := atomic.LoadUint32(&s.timeoutSec)
		last := atomic.LoadInt64(&s.lastActive)
		var h handle.Handle
		if open {
			h = s.handle(fd)
		}
		s.mu.Unlock()

		if !open {
			continue
		}

		effective := int64(to)
		if effective == 0 {
			effective = def
		}
		if effective == 0 {
			continue
		}

		out = append(out, TimeoutEntry{Handle: h, TimeoutSec: effective, IdleSec: now - last})
	}
	return out
}
