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

package writequeue

import "golang.org/x/sys/unix"

// sendfile is the BSD/Darwin fallback: this runtime targets epoll/kqueue
// hosts uniformly through the pread-plus-write path here, rather than each
// BSD variant's own sendfile(2) signature (which differs from Linux's and
// from FreeBSD's own hdtr-based call). Semantically equivalent to the
// kernel fast path per spec §8's file-write-equivalence property.
func (q *Queue) sendfile(pk *packet) (int, error) {
	if q.scratch == nil {
		q.scratch = make([]byte, scratchSize)
	}
	want := int64(len(q.scratch))
	if pk.remaining < want {
		want = pk.remaining
	}
	n, err := unix.Pread(pk.fd, q.scratch[:want], pk.fileOff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		pk.remaining = 0
		return 0, nil
	}
	wn, err := unix.Write(q.fd, q.scratch[:n])
	if wn > 0 {
		pk.fileOff += int64(wn)
		pk.remaining -= int64(wn)
	}
	return wn, err
}
