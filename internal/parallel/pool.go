// Package parallel runs batches of independent work items on a fixed set of
// goroutines. The software device uses it to execute compute workgroups.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a set of worker goroutines with one queue each. An idle worker
// steals from the other queues before blocking on its own.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool starts a pool of n workers. n <= 0 means GOMAXPROCS.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: n,
		queues:  make([]chan func(), n),
		done:    make(chan struct{}),
	}
	size := max(n*4, 8)
	for i := range p.queues {
		p.queues[i] = make(chan func(), size)
	}
	p.running.Store(true)

	p.wg.Add(n)
	for i := range n {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]
	for {
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// For calls fn(i) for every i in [0, n) and returns when all calls have
// returned. Items are spread round-robin over the workers. On a closed pool
// the remaining items run on the calling goroutine.
func (p *Pool) For(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		item := func() {
			defer wg.Done()
			fn(i)
		}
		if !p.running.Load() {
			item()
			continue
		}
		select {
		case p.queues[i%p.workers] <- item:
		case <-p.done:
			item()
		}
	}
	wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Close stops the workers after they finish their queued items. It is safe
// to call more than once.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
