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

package errs

import (
	"errors"
	"fmt"
)

// Error wraps a Code and an optional parent cause. It is comparable via
// errors.Is on Code, and unwraps to the parent via errors.As/errors.Unwrap.
type Error struct {
	code   Code
	msg    string
	parent error
}

// New builds an Error with the given code, message and optional parent.
func New(code Code, msg string, parent error) *Error {
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.parent)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *Error) Unwrap() error {
	return e.parent
}

// Is reports whether target is an *Error with the same Code, or a sentinel
// registered in this package for that Code.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.code == e.code
	}
	return false
}

// Code returns the error's classification.
func (e *Error) Code() Code {
	return e.code
}

// Sentinel values for use with errors.Is at call sites that don't need a
// custom message or parent; mirrors the teacher's predefined code errors.
var (
	ErrWouldBlock        = New(CodeWouldBlock, "operation would block", nil)
	ErrInterrupted       = New(CodeInterrupted, "operation interrupted", nil)
	ErrStaleHandle       = New(CodeStaleHandle, "handle no longer valid", nil)
	ErrTransport         = New(CodeTransport, "transport error", nil)
	ErrResourceExhausted = New(CodeResourceExhausted, "resource exhausted", nil)
	ErrDemuxFatal        = New(CodeDemuxFatal, "demultiplexer wait failed", nil)
	ErrListenFailed      = New(CodeListenFailed, "listen failed", nil)
	ErrSignalDeath       = New(CodeSignalDeath, "worker died from a fatal signal", nil)
)

// Wrap attaches a parent cause to one of the package sentinels without
// losing its Code, so callers can still errors.Is(err, errs.ErrTransport)
// after adding context.
func Wrap(sentinel *Error, parent error) *Error {
	return New(sentinel.code, sentinel.msg, parent)
}
