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

package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nabbar/reactor/logger"
)

// ForkEnvVar marks a process as a fork worker rather than the
// supervisor; its value is the worker's zero-based index.
const ForkEnvVar = "REACTOR_FORK_WORKER"

// IsForkWorker reports whether the current process was launched by
// Fork, and which worker index it is.
func IsForkWorker() (index int, ok bool) {
	v, present := os.LookupEnv(ForkEnvVar)
	if !present {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(v, "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

// Fork must run before any worker goroutine starts: the Go runtime
// cannot safely fork() a multi-threaded process the way the original
// runtime's single-threaded C process could, so this spawns `count` copies
// of the current executable instead, each with ForkEnvVar set, and
// supervises them, respawning any child that exits unexpectedly until
// ctx's Context is cancelled.
//
// Fork never returns in the supervisor process until shutdown; a process
// started with ForkEnvVar already set must not call it again.
func Fork(l *Lifecycle, count int) error {
	if count < 1 {
		return fmt.Errorf("lifecycle: fork count must be >= 1, got %d", count)
	}
	if _, already := IsForkWorker(); already {
		return fmt.Errorf("lifecycle: Fork called from inside a fork worker")
	}

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go superviseWorker(l, i, &wg)
	}

	wg.Wait()
	return nil
}

func superviseWorker(l *Lifecycle, index int, wg *sync.WaitGroup) {
	defer wg.Done()

	log := l.log.WithField("fork_worker", index)
	backoff := 100 * time.Millisecond

	for {
		select {
		case <-l.Context().Done():
			return
		default:
		}

		cmd := exec.Command(os.Args[0], os.Args[1:]...)
		cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", ForkEnvVar, index))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin

		start := time.Now()
		if err := cmd.Start(); err != nil {
			log.Error("failed to start fork worker", err)
			time.Sleep(backoff)
			continue
		}

		err := cmd.Wait()
		alive := time.Since(start)

		select {
		case <-l.Context().Done():
			return
		default:
		}

		if err != nil {
			log.Error("fork worker exited, respawning", err)
		}

		// A worker that dies almost immediately (crash loop) backs off
		// instead of respawning as fast as the OS will allow.
		if alive < time.Second {
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
		} else {
			backoff = 100 * time.Millisecond
		}
	}
}
