package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNewPoolDefaultsToGOMAXPROCS(t *testing.T) {
	p := NewPool(0)
	defer p.Close()
	if p.Workers() != runtime.GOMAXPROCS(0) {
		t.Errorf("Workers() = %d, want %d", p.Workers(), runtime.GOMAXPROCS(0))
	}
}

func TestForRunsEveryItemOnce(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	const n = 1000
	var hits [n]atomic.Int32
	p.For(n, func(i int) { hits[i].Add(1) })

	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("item %d ran %d times", i, got)
		}
	}
}

func TestForEmpty(t *testing.T) {
	p := NewPool(2)
	defer p.Close()
	p.For(0, func(int) { t.Fatal("called for n=0") })
}

func TestForAfterClose(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close()

	var sum atomic.Int64
	p.For(10, func(i int) { sum.Add(int64(i)) })
	if sum.Load() != 45 {
		t.Errorf("sum = %d, want 45", sum.Load())
	}
}

func TestForConcurrentCallers(t *testing.T) {
	p := NewPool(3)
	defer p.Close()

	var total atomic.Int64
	done := make(chan struct{})
	for range 4 {
		go func() {
			p.For(250, func(int) { total.Add(1) })
			done <- struct{}{}
		}()
	}
	for range 4 {
		<-done
	}
	if total.Load() != 1000 {
		t.Errorf("total = %d, want 1000", total.Load())
	}
}

func BenchmarkFor(b *testing.B) {
	p := NewPool(0)
	defer p.Close()
	b.ReportAllocs()
	for b.Loop() {
		p.For(64, func(int) {})
	}
}
