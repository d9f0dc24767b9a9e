//go:build graphitedebug

package owner

import (
	"sync"
	"testing"
)

func TestGuardPanicsOnConcurrentEntry(t *testing.T) {
	var g Guard
	exit := g.Enter("Submit")
	defer exit()

	var wg sync.WaitGroup
	var recovered any
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { recovered = recover() }()
		g.Enter("Insert")()
	}()
	wg.Wait()

	if recovered == nil {
		t.Fatal("expected panic on concurrent entry")
	}
}

func TestGuardAllowsNestingOnOwner(t *testing.T) {
	var g Guard
	outer := g.Enter("Submit")
	inner := g.Enter("CheckAsyncWorkCompletion")
	inner()
	outer()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Enter("Submit")()
	}()
	<-done
}
