//go:build graphitedebug

package graphite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/graphite/device"
)

// stallCommand blocks inside Record until released.
type stallCommand struct {
	entered, release chan struct{}
}

func (stallCommand) Type() device.CommandType { return device.CmdHostTask }

func (c stallCommand) Textures() []device.Texture {
	close(c.entered)
	<-c.release
	return nil
}

func TestRecorderPanicsOnConcurrentUse(t *testing.T) {
	c, _ := newTestContext(t)
	r, err := c.MakeRecorder()
	require.NoError(t, err)
	defer r.Close()

	cmd := stallCommand{entered: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- r.Record(cmd) }()
	<-cmd.entered

	assert.Panics(t, func() { _ = r.HostTask(func() {}) })
	close(cmd.release)
	assert.ErrorIs(t, <-done, ErrUnsupported)
}
