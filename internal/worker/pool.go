// Package worker runs detached tasks on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Task is one unit of work. The context is the pool's own, never a request
// context, and is cancelled only if Shutdown runs past its deadline.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

type Pool struct {
	log    logrus.FieldLogger
	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts workers goroutines reading from a queue of queueSize tasks.
func New(workers, queueSize int, log logrus.FieldLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log,
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": id,
				"task":   t.Name,
				"panic":  fmt.Sprint(r),
			}).Errorf("task panicked\n%s", debug.Stack())
		}
	}()
	t.Run(p.ctx)
}

// Shutdown stops accepting tasks, lets queued and running tasks finish and
// waits for them until ctx is done. On timeout the task context is cancelled
// and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Pending is the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}
