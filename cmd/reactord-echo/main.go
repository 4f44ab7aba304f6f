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

// Command reactord-echo is a minimal byte-echo server built on package
// server, demonstrating config loading, metrics exposition, and a
// conventional TLS listener running alongside the non-blocking core.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nabbar/reactor/config"
	"github.com/nabbar/reactor/lifecycle"
	"github.com/nabbar/reactor/listenerproto"
	"github.com/nabbar/reactor/logger"
	"github.com/nabbar/reactor/server"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file; defaults to a single plaintext listener on :7000")
		metricsAddr = flag.String("metrics-addr", ":9090", "address the /metrics endpoint listens on, empty to disable")
		tlsAddr     = flag.String("tls-addr", "", "address for an optional TLS echo listener, empty to disable")
		tlsCert     = flag.String("tls-cert", "", "PEM certificate file for -tls-addr")
		tlsKey      = flag.String("tls-key", "", "PEM key file for -tls-addr")
	)
	flag.Parse()

	log := logger.New(os.Stderr)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("failed to build server", err)
		os.Exit(1)
	}

	factory := newEchoFactory(srv)
	for _, l := range cfg.Listeners {
		srv.RegisterFactory(l.Tag, factory)
	}

	lc := lifecycle.New(log)
	lc.WatchSignals()

	if *metricsAddr != "" {
		startMetrics(lc, srv, *metricsAddr, log)
	}
	if *tlsAddr != "" && *tlsCert != "" && *tlsKey != "" {
		startTLSEcho(lc, *tlsAddr, *tlsCert, *tlsKey, log)
	}

	runErr := srv.Run(lc.Context())
	_ = lc.Shutdown(context.Background())

	if runErr != nil && lc.Context().Err() == nil {
		log.Error("server exited unexpectedly", runErr)
		os.Exit(1)
	}
}

// loadConfig loads path through config.Load, or returns a single-listener
// default when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.Listeners = []config.Listener{{Tag: "echo", Address: "0.0.0.0:7000", Backlog: 128}}
		return cfg, nil
	}
	return config.Load(path)
}

// startMetrics serves Prometheus metrics on a net.Listener wrapped by
// listenerproto.ListenLimited, independent of the reactor's own listeners.
func startMetrics(lc *lifecycle.Lifecycle, srv *server.Server, addr string, log logger.Logger) {
	reg := prometheus.NewRegistry()
	srv.Metrics().MustRegister(reg)

	ln, err := listenerproto.ListenLimited("tcp", addr, 8)
	if err != nil {
		log.Error("failed to start metrics listener", err)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Handler: mux}

	go func() {
		if srvErr := httpSrv.Serve(ln); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error("metrics server stopped", srvErr)
		}
	}()

	lc.OnShutdown(func(ctx context.Context) error {
		return httpSrv.Shutdown(ctx)
	})
}
