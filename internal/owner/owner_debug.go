//go:build graphitedebug

package owner

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// Guard detects concurrent use of a single-owner object.
type Guard struct {
	mu    sync.Mutex
	gid   uint64
	depth int
	op    string
}

// Enter marks the start of a guarded call and returns its exit func.
// It panics if another goroutine is inside a guarded call.
func (g *Guard) Enter(op string) func() {
	id := goid()

	g.mu.Lock()
	if g.depth > 0 && g.gid != id {
		other := g.op
		g.mu.Unlock()
		panic(fmt.Sprintf("graphite: concurrent use: %s called while goroutine %d is in %s", op, g.gid, other))
	}
	g.gid = id
	g.depth++
	if g.depth == 1 {
		g.op = op
	}
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		g.depth--
		if g.depth == 0 {
			g.gid = 0
			g.op = ""
		}
		g.mu.Unlock()
	}
}

// Enabled reports whether ownership checks are compiled in.
func Enabled() bool { return true }

// goid parses the current goroutine id out of the stack header
// ("goroutine 42 [running]:").
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
