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

package registry_test

import (
	"github.com/nabbar/reactor/handle"
	"github.com/nabbar/reactor/protocol"
	"github.com/nabbar/reactor/registry"
	"github.com/nabbar/reactor/writequeue"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeProto struct {
	tag    string
	closed bool
}

func (f *fakeProto) ServiceTag() string       { return f.tag }
func (f *fakeProto) OnData(handle.Handle)     {}
func (f *fakeProto) OnReady(handle.Handle)    {}
func (f *fakeProto) OnShutdown(handle.Handle) {}
func (f *fakeProto) OnClose()                 { f.closed = true }
func (f *fakeProto) Ping(handle.Handle)       {}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		pool := writequeue.NewPool(8, writequeue.OverflowAllocate)
		reg = registry.New(16, pool)
	})

	It("mints a fresh handle on Open and validates it", func() {
		h, err := reg.Open(3, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(reg.Validate(h)).To(BeTrue())
	})

	It("produces a different handle across close/reopen on the same fd", func() {
		h1, err := reg.Open(3, nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = reg.Clear(h1)
		Expect(err).ToNot(HaveOccurred())

		h2, err := reg.Open(3, nil)
		Expect(err).ToNot(HaveOccurred())

		Expect(h1).ToNot(Equal(h2))
		Expect(reg.Validate(h1)).To(BeFalse())
		Expect(reg.Validate(h2)).To(BeTrue())
	})

	It("rejects every public call against a stale handle without side effects on the new one", func() {
		h1, _ := reg.Open(5, nil)
		_, _ = reg.Clear(h1)
		h2, _ := reg.Open(5, nil)

		p := &fakeProto{tag: "chat"}
		_, err := reg.SetProtocol(h1, p)
		Expect(err).To(HaveOccurred())

		got, err := reg.Protocol(h2)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("returns the old protocol from SetProtocol for deferred OnClose", func() {
		h, _ := reg.Open(1, nil)
		p1 := &fakeProto{tag: "a"}
		p2 := &fakeProto{tag: "b"}

		old, err := reg.SetProtocol(h, p1)
		Expect(err).ToNot(HaveOccurred())
		Expect(old).To(BeNil())

		old, err = reg.SetProtocol(h, p2)
		Expect(err).ToNot(HaveOccurred())
		Expect(old).To(Equal(p1))
	})

	It("counts and visits only slots matching a service tag", func() {
		for fd := 0; fd < 5; fd++ {
			h, _ := reg.Open(fd, nil)
			tag := "chat"
			if fd%2 == 0 {
				tag = "other"
			}
			_, _ = reg.SetProtocol(h, &fakeProto{tag: tag})
		}

		Expect(reg.Count("chat")).To(Equal(int64(2)))
		Expect(reg.Count("other")).To(Equal(int64(3)))
		Expect(reg.Count("")).To(Equal(int64(5)))

		visited := 0
		reg.Visit(0, "chat", func(h handle.Handle, p protocol.Protocol) bool {
			visited++
			return true
		})
		Expect(visited).To(Equal(2))
	})

	It("reports idle slots via WalkTimeouts", func() {
		h, _ := reg.Open(2, nil)
		Expect(reg.SetTimeout(h, 1)).To(Succeed())

		entries := reg.WalkTimeouts(1000)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Handle).To(Equal(h))
		Expect(entries[0].TimeoutSec).To(Equal(int64(1)))
	})

	It("falls back to the registry default timeout when a slot never set its own", func() {
		h, _ := reg.Open(3, nil)
		reg.SetDefaultTimeout(5)

		entries := reg.WalkTimeouts(1000)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Handle).To(Equal(h))
		Expect(entries[0].TimeoutSec).To(Equal(int64(5)))
	})

	It("exempts a slot from the sweep when the registry default timeout is disabled", func() {
		_, _ = reg.Open(4, nil)
		reg.SetDefaultTimeout(0)

		entries := reg.WalkTimeouts(1000)
		Expect(entries).To(BeEmpty())
	})
})
