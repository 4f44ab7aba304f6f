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

// Package config declares the validated, (un)marshallable configuration
// surface for a server instance.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nabbar/reactor/duration"
	loglvl "github.com/nabbar/reactor/logger/level"
)

var validate = validator.New()

// Listener configures one bound address the server accepts connections on.
type Listener struct {
	Tag     string `yaml:"tag" json:"tag" validate:"required"`
	Address string `yaml:"address" json:"address" validate:"required,hostname_port|ip4_addr"`
	Backlog int    `yaml:"backlog" json:"backlog" validate:"gte=0"`
}

// Config is the full, validated configuration for one reactor.Reactor plus
// its dispatcher, registry and listeners.
type Config struct {
	// Workers is the dispatcher's worker-goroutine count; zero means one
	// per GOMAXPROCS, resolved by the caller building the pool.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`

	// QueueDepth bounds the dispatcher's pending-job channel.
	QueueDepth int `yaml:"queue_depth" json:"queue_depth" validate:"gte=1"`

	// Capacity is the registry's fixed slot count (max simultaneous fds).
	Capacity int `yaml:"capacity" json:"capacity" validate:"gte=1"`

	// Margin reserves this many slots below Capacity: the listener's
	// accept-capacity guard weights its semaphore to Capacity-Margin, so
	// new accepts start getting refused once open connections reach that
	// guard band instead of only once the registry is completely full.
	Margin int `yaml:"margin" json:"margin" validate:"gte=0"`

	// PacketPoolSize bounds the writequeue packet pool.
	PacketPoolSize int `yaml:"packet_pool_size" json:"packet_pool_size" validate:"gte=1"`

	// IdleTimeout is the registry's default per-connection idle timeout,
	// used for any slot that never calls SetTimeout on itself; zero falls
	// back to registry.DefaultIdleTimeoutSec (300s) rather than disabling
	// the watchdog.
	IdleTimeout duration.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Tick is the reactor's demux.Wait granularity.
	Tick duration.Duration `yaml:"tick" json:"tick"`

	// Listeners are the addresses this server binds and accepts on.
	Listeners []Listener `yaml:"listeners" json:"listeners" validate:"required,dive"`

	// LogLevel is the minimum severity the injected logger emits.
	LogLevel loglvl.Level `yaml:"log_level" json:"log_level"`

	// Sentinel enables the dispatcher's recover-and-respawn behaviour for a
	// panicking worker goroutine, the Go analogue of the original runtime's
	// per-worker-process crash supervision. Disabling it lets a callback
	// panic crash the process instead, which some deployments prefer over
	// silently swallowing a bug.
	Sentinel bool `yaml:"sentinel" json:"sentinel"`
}

// Default returns a Config with conservative, production-sane defaults.
func Default() *Config {
	return &Config{
		Workers:        0,
		QueueDepth:     1024,
		Capacity:       65536,
		Margin:         8,
		PacketPoolSize: 248,
		IdleTimeout:    duration.Seconds(300),
		Tick:           duration.Millis(250),
		LogLevel:       loglvl.InfoLevel,
		Sentinel:       true,
	}
}

// Validate checks struct tags and cross-field invariants not expressible as
// a single tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Margin >= c.Capacity {
		return fmt.Errorf("config: margin (%d) must be less than capacity (%d)", c.Margin, c.Capacity)
	}
	seen := make(map[string]struct{}, len(c.Listeners))
	for _, l := range c.Listeners {
		if _, dup := seen[l.Tag]; dup {
			return fmt.Errorf("config: duplicate listener tag %q", l.Tag)
		}
		seen[l.Tag] = struct{}{}
	}
	return nil
}
