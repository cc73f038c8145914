package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsEveryTask(t *testing.T) {
	p := NewPool(3, 10)

	var ran atomic.Int32
	for i := 0; i < 25; i++ {
		p.Exec(TaskFunc(func() { ran.Add(1) }))
	}
	p.Close()
	p.Wait()

	assert.Equal(t, int32(25), ran.Load())
}

func TestPool_ConcurrencyBoundedBySize(t *testing.T) {
	p := NewPool(2, 10)

	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		p.Exec(TaskFunc(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}
	close(release)
	p.Close()
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_TryExecDropsWhenFull(t *testing.T) {
	// GIVEN: one worker blocked and a queue of one already filled
	p := NewPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})
	p.Exec(TaskFunc(func() { close(started); <-block }))
	<-started
	assert.True(t, p.TryExec(TaskFunc(func() {})))

	// WHEN / THEN: a further task is refused instead of blocking
	assert.False(t, p.TryExec(TaskFunc(func() {})))

	close(block)
	p.Close()
	p.Wait()
	assert.False(t, p.TryExec(TaskFunc(func() {})), "closed pool refuses work")
}

func TestPool_Resize(t *testing.T) {
	p := NewPool(1, 0)
	p.Resize(4)
	assert.Equal(t, 4, p.Size())
	p.Resize(2)
	assert.Equal(t, 2, p.Size())
	p.Close()
	p.Wait()
}

func TestPool_ExecAfterCloseIsRefused(t *testing.T) {
	p := NewPool(1, 1)
	p.Close()
	p.Wait()

	var ran atomic.Int32
	assert.NotPanics(t, func() {
		assert.False(t, p.Exec(TaskFunc(func() { ran.Add(1) })))
	})
	assert.Zero(t, ran.Load())
}
