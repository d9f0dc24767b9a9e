package graphite

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/graphite/device"
)

// SharedContext holds the device and its capabilities. It is shared by a
// Context and every Recorder and Recording made from it, and destroys the
// device when the last of them releases it.
type SharedContext struct {
	dev     device.Device
	backend device.BackendAPI
	caps    device.Caps
	log     *slog.Logger

	refs atomic.Int32
}

func newSharedContext(dev device.Device, log *slog.Logger) *SharedContext {
	s := &SharedContext{
		dev:     dev,
		backend: dev.Backend(),
		caps:    dev.Caps(),
		log:     log,
	}
	s.refs.Store(1)
	return s
}

// Backend returns the native API of the device.
func (s *SharedContext) Backend() device.BackendAPI { return s.backend }

// Caps returns the device capability table.
func (s *SharedContext) Caps() device.Caps { return s.caps }

// Device returns the device.
func (s *SharedContext) Device() device.Device { return s.dev }

func (s *SharedContext) ref() *SharedContext {
	s.refs.Add(1)
	return s
}

func (s *SharedContext) unref() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		s.log.Info("graphite: destroying device", "backend", s.backend)
		s.dev.Destroy()
	case n < 0:
		panic("graphite: SharedContext released too many times")
	}
}
