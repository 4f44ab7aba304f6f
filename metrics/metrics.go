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

// Package metrics wraps the Prometheus collectors the reactor core exposes,
// so server.Server has one place to register them against a caller-owned
// registry instead of relying on the global default one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors is the full set of metrics one server.Server instance owns.
// New sets every field; a zero-value Collectors has nil fields, and calling
// a method on one of them panics, so callers must always use New.
type Collectors struct {
	OpenConnections prometheus.Gauge
	QueueDepth      prometheus.Gauge
	BytesFlushed    prometheus.Counter
	Pings           prometheus.Counter
	WorkerRespawns  prometheus.Counter
	AcceptRejected  prometheus.Counter
}

// New builds a Collectors with a namespace/subsystem prefix, unregistered.
func New(namespace string) *Collectors {
	return &Collectors{
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Currently open connections across all listeners.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_depth",
			Help:      "Pending jobs in the dispatcher's work queue.",
		}),
		BytesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_flushed_total",
			Help:      "Bytes written to sockets by write-queue flushes.",
		}),
		Pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_pings_total",
			Help:      "Idle-timeout Ping callbacks fired by the reactor's watchdog.",
		}),
		WorkerRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_respawns_total",
			Help:      "Dispatcher worker goroutines restarted after a recovered panic.",
		}),
		AcceptRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_rejected_total",
			Help:      "Connections rejected at accept time for exceeding listener capacity.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration the way prometheus.MustRegister does.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.OpenConnections,
		c.QueueDepth,
		c.BytesFlushed,
		c.Pings,
		c.WorkerRespawns,
		c.AcceptRejected,
	)
}
