// Package worker provides a fixed-size goroutine pool fed by a bounded queue.
package worker

import (
	"sync"
)

type Task interface {
	Execute()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

func (f TaskFunc) Execute() { f() }

// Pool runs at most size tasks at a time. Tasks run on the worker
// goroutine itself, so the pool size is the concurrency limit.
type Pool struct {
	mu     sync.RWMutex // write lock for closed and size, read lock for sends
	size   int
	tasks  chan Task
	kill   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func NewPool(speed int, queue int) *Pool {
	pool := &Pool{
		tasks: make(chan Task, queue),
		kill:  make(chan struct{}),
	}
	pool.Resize(speed)
	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task.Execute()
		case <-p.kill:
			return
		}
	}
}

// Resize grows or shrinks the number of workers.
func (p *Pool) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for p.size < n {
		p.size++
		p.wg.Add(1)
		go p.worker()
	}
	for p.size > n {
		p.size--
		p.kill <- struct{}{}
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Close stops accepting tasks. Queued tasks still run; use Wait to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// Exec queues task, blocking while the queue is full. It returns false once
// the pool is closed.
func (p *Pool) Exec(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// TryExec queues task without blocking. It returns false when the queue is
// full or the pool is closed.
func (p *Pool) TryExec(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}
