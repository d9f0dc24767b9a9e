// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/graphite/device"
)

type pipelineKey struct {
	source     string
	entryPoint string
}

// pipeline is a compiled compute pipeline with no bind groups.
type pipeline struct {
	module hal.ShaderModule
	layout hal.PipelineLayout
	raw    hal.ComputePipeline
}

// retiredPipeline waits for the queue to pass index before destruction.
// An index of 0 means the retiring Submit has not finished yet.
type retiredPipeline struct {
	p     *pipeline
	index uint64
}

// pipeline returns the cached pipeline for c, compiling it on first use.
// Caller must hold d.mu.
func (d *Device) pipeline(c device.DispatchCommand) (*pipeline, error) {
	entry := c.EntryPoint
	if entry == "" {
		entry = "main"
	}
	return d.pipelines.GetOrCreate(pipelineKey{source: c.WGSL, entryPoint: entry}, func() (*pipeline, error) {
		return d.createPipeline(c.Label, c.WGSL, entry)
	})
}

func (d *Device) createPipeline(label, source, entry string) (*pipeline, error) {
	spirv, err := compileSPIRV(source)
	if err != nil {
		return nil, fmt.Errorf("native: %w: %w", device.ErrUnsupported, err)
	}

	p := &pipeline{}
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, translate("create shader module", err)
	}
	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: label})
	if err != nil {
		d.destroyPipeline(p)
		return nil, translate("create pipeline layout", err)
	}
	p.raw, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: entry},
	})
	if err != nil {
		d.destroyPipeline(p)
		return nil, translate("create compute pipeline", err)
	}
	d.log.Debug("native: compiled compute pipeline", "label", label, "entry", entry, "words", len(spirv))
	return p, nil
}

// compileSPIRV compiles WGSL to little-endian SPIR-V words.
func compileSPIRV(source string) ([]uint32, error) {
	b, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words, nil
}

// retirePipeline is the cache eviction callback. The pipeline may still be
// referenced by in-flight or currently encoding work. Caller holds d.mu.
func (d *Device) retirePipeline(_ pipelineKey, p *pipeline) {
	d.retired = append(d.retired, retiredPipeline{p: p})
}

// sealRetiredLocked assigns the last submitted index to pipelines retired
// during the current Submit.
func (d *Device) sealRetiredLocked() {
	for i := range d.retired {
		if d.retired[i].index == 0 {
			d.retired[i].index = max(d.lastIndex, 1)
		}
	}
}

func (d *Device) destroyRetiredLocked(completed uint64) {
	kept := d.retired[:0]
	for _, r := range d.retired {
		if r.index != 0 && r.index <= completed {
			d.destroyPipeline(r.p)
		} else {
			kept = append(kept, r)
		}
	}
	d.retired = kept
}

func (d *Device) destroyPipeline(p *pipeline) {
	if p.raw != nil {
		d.device.DestroyComputePipeline(p.raw)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}
