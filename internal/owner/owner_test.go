package owner

import "testing"

func TestGuardSequentialUse(t *testing.T) {
	var g Guard
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			g.Enter("op")()
		}()
		<-done
	}
	_ = Enabled()
}
