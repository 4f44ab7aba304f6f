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

package server

import (
	"time"

	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/timerproto"
)

// RunEvery schedules fn to run repeatedly, roughly every interval, on a
// dispatcher worker, for up to reps expirations (0 means indefinitely). arg
// is passed through to every fn call unchanged. onFinish, if non-nil, runs
// once the timer's slot has closed, whether that happened because reps was
// exhausted or because the timer was closed some other way. fn must not
// block: it is delivered the same way the reactor delivers any other
// OnData, as a task holding the timer slot's busy lock.
func (s *Server) RunEvery(interval time.Duration, reps int64, tag string, fn protocol.Fn, arg interface{}, onFinish protocol.OnFinish) (handle.Handle, error) {
	ident, err := s.reserveTimerIdent()
	if err != nil {
		return 0, err
	}
	return timerproto.Register(s.reg, s.dx, ident, int(interval.Milliseconds()), reps, tag, fn, arg, onFinish, s.CloseConnection)
}

// RunAfter schedules fn to run once, after delay has elapsed, then closes
// the timer's slot so it never fires again.
func (s *Server) RunAfter(delay time.Duration, tag string, fn protocol.Fn, arg interface{}, onFinish protocol.OnFinish) (handle.Handle, error) {
	return s.RunEvery(delay, 1, tag, fn, arg, onFinish)
}
