// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"fmt"
	"time"

	"github.com/gogpu/graphite/device"
)

// submission is both the queued work item and its fence.
type submission struct {
	seq  uint64
	info device.SubmitInfo
	cmds []device.Command
	done chan struct{}
	err  error
}

func (s *submission) finish(err error) {
	s.err = err
	close(s.done)
}

// Submit implements device.Device. It validates every handle, queues the
// commands and returns without waiting for execution.
func (d *Device) Submit(cmds []device.Command, info device.SubmitInfo) (device.Fence, error) {
	d.mu.Lock()
	if d.lost || d.closed {
		d.mu.Unlock()
		return nil, device.ErrDeviceLost
	}
	for i, c := range cmds {
		if err := d.validateLocked(c); err != nil {
			d.mu.Unlock()
			return nil, fmt.Errorf("soft: command %d (%v): %w", i, c.Type(), err)
		}
	}
	d.seq++
	s := &submission{
		seq:  d.seq,
		info: info,
		cmds: append([]device.Command(nil), cmds...),
		done: make(chan struct{}),
	}
	d.queue = append(d.queue, s)
	d.mu.Unlock()

	d.log.Debug("soft: submit", "seq", s.seq, "label", info.Label, "commands", len(cmds))
	d.signal()
	return s, nil
}

func (d *Device) validateLocked(c device.Command) error {
	for _, t := range c.Textures() {
		tex, ok := t.(*texture)
		if !ok || tex.destroyed {
			return device.ErrInvalidHandle
		}
	}
	switch c := c.(type) {
	case device.ReadbackCommand:
		buf, ok := c.Dst.(*buffer)
		if !ok || buf.destroyed {
			return device.ErrInvalidHandle
		}
	case device.DispatchCommand:
		if c.Kernel == nil {
			return fmt.Errorf("%w: dispatch without kernel", device.ErrUnsupported)
		}
	case device.CopyTextureCommand:
		if c.Src.Desc().Format != c.Dst.Desc().Format {
			return fmt.Errorf("format mismatch: %w", device.ErrUnsupported)
		}
	}
	return nil
}

func (d *Device) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next pops the next runnable submission, or returns nil.
func (d *Device) next() *submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused || d.lost || len(d.queue) == 0 {
		return nil
	}
	s := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return s
}

// run is the device timeline.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		s := d.next()
		if s == nil {
			select {
			case <-d.wake:
				continue
			case <-d.stopped:
				return
			}
		}

		if d.opts.latency > 0 {
			select {
			case <-time.After(d.opts.latency):
			case <-d.stopped:
				s.finish(device.ErrDeviceLost)
				return
			}
		}

		err := d.execute(s.cmds)
		if err != nil {
			d.log.Warn("soft: submission failed", "seq", s.seq, "err", err)
		}
		s.finish(err)
	}
}
