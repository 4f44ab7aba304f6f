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

//go:build !linux

package server

import (
	"fmt"
	"sync/atomic"
)

// reserveTimerIdent picks a kqueue EVFILT_TIMER ident on BSD/Darwin, where a
// timer has no backing fd of its own. Idents are handed out from the top of
// the registry's slot range downward, since real accepted connections and
// listeners fill it from the bottom; this keeps a timer's slot from ever
// colliding with one a live socket fd could take.
func (s *Server) reserveTimerIdent() (int, error) {
	next := int(atomic.AddInt64(&s.timerIdent, -1))
	if next < 0 {
		return 0, fmt.Errorf("server: exhausted timer ident range")
	}
	return next, nil
}
