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

// Package logger provides the structured-logging surface injected across
// the reactor core, instead of calls to the standard log package.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nabbar/reactor/logger/fields"
	loglvl "github.com/nabbar/reactor/logger/level"
)

// Logger is the minimal structured-logging surface the reactor core needs.
// Fields are attached per call site (handle, fd, slot) rather than globally.
type Logger interface {
	SetLevel(lvl loglvl.Level)
	WithField(key string, value interface{}) Logger
	WithFields(f fields.Fields) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
}

type lgr struct {
	l *logrus.Logger
	e *logrus.Entry
}

// New returns a logrus-backed Logger writing to w (os.Stderr if nil).
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &lgr{l: l, e: logrus.NewEntry(l)}
}

// Discard returns a Logger that drops every message, the default when the
// embedding application does not inject one.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &lgr{l: l, e: logrus.NewEntry(l)}
}

func (g *lgr) SetLevel(lvl loglvl.Level) {
	g.l.SetLevel(lvl.Logrus())
}

func (g *lgr) WithField(key string, value interface{}) Logger {
	return &lgr{l: g.l, e: g.e.WithField(key, value)}
}

func (g *lgr) WithFields(f fields.Fields) Logger {
	return &lgr{l: g.l, e: g.e.WithFields(logrus.Fields(f))}
}

func (g *lgr) Debug(msg string) { g.e.Debug(msg) }
func (g *lgr) Info(msg string)  { g.e.Info(msg) }
func (g *lgr) Warn(msg string)  { g.e.Warn(msg) }

func (g *lgr) Error(msg string, err error) {
	if err != nil {
		g.e.WithField("error", err.Error()).Error(msg)
		return
	}
	g.e.Error(msg)
}
