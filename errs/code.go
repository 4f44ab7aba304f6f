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

// Package errs provides the closed set of error kinds the reactor core can
// surface, per the error taxonomy table of the specification it implements.
package errs

// Code classifies a Kind the way an HTTP status classifies a response: a
// small, closed, switchable integer space rather than free-form strings.
type Code uint16

const (
	CodeNone Code = iota
	CodeWouldBlock
	CodeInterrupted
	CodeStaleHandle
	CodeTransport
	CodeResourceExhausted
	CodeDemuxFatal
	CodeListenFailed
	CodeSignalDeath
)

func (c Code) String() string {
	switch c {
	case CodeWouldBlock:
		return "would_block"
	case CodeInterrupted:
		return "interrupted"
	case CodeStaleHandle:
		return "stale_handle"
	case CodeTransport:
		return "transport_error"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodeDemuxFatal:
		return "demux_fatal"
	case CodeListenFailed:
		return "listen_failed"
	case CodeSignalDeath:
		return "signal_death"
	default:
		return "none"
	}
}
