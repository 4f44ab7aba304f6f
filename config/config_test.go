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

package config_test

import (
	"strings"
	"testing"

	"github.com/nabbar/reactor/config"
)

func TestDefaultPassesValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Listeners = []config.Listener{{Tag: "http", Address: "0.0.0.0:8080"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate, got: %v", err)
	}
}

func TestValidateRejectsMissingListeners(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for empty Listeners")
	}
}

func TestValidateRejectsDuplicateListenerTags(t *testing.T) {
	cfg := config.Default()
	cfg.Listeners = []config.Listener{
		{Tag: "http", Address: "0.0.0.0:8080"},
		{Tag: "http", Address: "0.0.0.0:8081"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate listener tag") {
		t.Fatalf("expected duplicate tag error, got: %v", err)
	}
}

func TestLoadReaderAppliesDefaultsForOmittedFields(t *testing.T) {
	doc := `
listeners:
  - tag: http
    address: "127.0.0.1:9000"
`
	cfg, err := config.LoadReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}
	if cfg.PacketPoolSize != config.Default().PacketPoolSize {
		t.Fatalf("expected default PacketPoolSize to survive a partial document, got %d", cfg.PacketPoolSize)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected listeners: %+v", cfg.Listeners)
	}
}

func TestLoadReaderRejectsUnknownFields(t *testing.T) {
	doc := `
listeners:
  - tag: http
    address: "127.0.0.1:9000"
not_a_real_field: true
`
	if _, err := config.LoadReader(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected an error for an unknown field")
	}
}
