// pool.go: bounded blocking-work pool. Disk I/O and compression run here,
// off the per-connection goroutine, so a slow persistent-KV call never
// stalls unrelated sessions.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"context"

	"github.com/stratacache/stratacache"
)

type job struct {
	fn     func() (string, error)
	result chan<- jobResult
}

type jobResult struct {
	reply string
	err   error
}

// Pool runs submitted work on a fixed set of goroutines behind a bounded
// queue. A full queue rejects new work immediately with ErrOverloaded
// rather than growing unboundedly.
type Pool struct {
	queue chan job
	done  chan struct{}
}

// NewPool starts a Pool with the given worker count and queue depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	p := &Pool{
		queue: make(chan job, queueDepth),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			reply, err := j.fn()
			j.result <- jobResult{reply: reply, err: err}
		case <-p.done:
			return
		}
	}
}

// Submit enqueues fn and waits for it to run. Enqueueing never blocks: a
// full queue returns ErrOverloaded without running fn. The wait honors
// ctx's deadline and returns ErrTimeout when it passes.
func (p *Pool) Submit(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	result := make(chan jobResult, 1)
	select {
	case p.queue <- job{fn: fn, result: result}:
	default:
		return "", stratacache.ErrOverloaded(op)
	}

	select {
	case r := <-result:
		return r.reply, r.err
	case <-ctx.Done():
		return "", stratacache.ErrTimeout(op)
	}
}

// Close signals the workers to stop. A job already running finishes; jobs
// still queued may never run. Submit does not check for Close and keeps
// enqueueing until the queue is full.
func (p *Pool) Close() {
	close(p.done)
}
