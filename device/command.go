// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"image"
	"image/color"
)

// CommandType identifies the type of a command.
type CommandType uint8

const (
	// Texture writes
	CmdClear       CommandType = iota // Clear a whole texture
	CmdFillRect                       // Fill a rectangle with a solid color
	CmdWritePixels                    // Upload CPU pixels into a rectangle
	CmdCopyTexture                    // Copy a rectangle between textures
	CmdDrawImage                      // Draw a scaled image into a rectangle

	// Compute and host work
	CmdDispatch // Dispatch compute workgroups
	CmdHostTask // Run a host function on the device timeline

	// Transfers
	CmdReadback // Copy a texture rectangle into a buffer
)

// commandTypeNames maps CommandType values to their string representation.
var commandTypeNames = [...]string{
	CmdClear:       "Clear",
	CmdFillRect:    "FillRect",
	CmdWritePixels: "WritePixels",
	CmdCopyTexture: "CopyTexture",
	CmdDrawImage:   "DrawImage",
	CmdDispatch:    "Dispatch",
	CmdHostTask:    "HostTask",
	CmdReadback:    "Readback",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is the interface implemented by all command types.
// Commands are immutable once recorded.
type Command interface {
	// Type returns the CommandType for this command.
	Type() CommandType

	// Textures returns every texture the command reads or writes.
	Textures() []Texture
}

// Filter selects the sampling used by DrawImageCommand.
type Filter uint8

const (
	// FilterNearest uses nearest-neighbor sampling.
	FilterNearest Filter = iota
	// FilterLinear uses bilinear sampling.
	FilterLinear
)

// ClearCommand fills the whole target with a color.
type ClearCommand struct {
	Target Texture
	Color  color.NRGBA
}

// Type implements Command.
func (ClearCommand) Type() CommandType { return CmdClear }

// Textures implements Command.
func (c ClearCommand) Textures() []Texture { return []Texture{c.Target} }

// FillRectCommand fills Rect (clipped to the target) with a solid color.
type FillRectCommand struct {
	Target Texture
	Rect   image.Rectangle
	Color  color.NRGBA
}

// Type implements Command.
func (FillRectCommand) Type() CommandType { return CmdFillRect }

// Textures implements Command.
func (c FillRectCommand) Textures() []Texture { return []Texture{c.Target} }

// WritePixelsCommand uploads Pixels, laid out in the target's format with
// RowBytes bytes per row, into Rect.
type WritePixelsCommand struct {
	Target   Texture
	Rect     image.Rectangle
	Pixels   []byte
	RowBytes int
}

// Type implements Command.
func (WritePixelsCommand) Type() CommandType { return CmdWritePixels }

// Textures implements Command.
func (c WritePixelsCommand) Textures() []Texture { return []Texture{c.Target} }

// CopyTextureCommand copies SrcRect of Src to DstPoint in Dst.
// Both textures must share a format.
type CopyTextureCommand struct {
	Src      Texture
	Dst      Texture
	SrcRect  image.Rectangle
	DstPoint image.Point
}

// Type implements Command.
func (CopyTextureCommand) Type() CommandType { return CmdCopyTexture }

// Textures implements Command.
func (c CopyTextureCommand) Textures() []Texture { return []Texture{c.Src, c.Dst} }

// DrawImageCommand draws Image scaled into DstRect of Target.
// The image is captured at record time and must not be mutated afterwards.
type DrawImageCommand struct {
	Target  Texture
	Image   image.Image
	DstRect image.Rectangle
	Filter  Filter
}

// Type implements Command.
func (DrawImageCommand) Type() CommandType { return CmdDrawImage }

// Textures implements Command.
func (c DrawImageCommand) Textures() []Texture { return []Texture{c.Target} }

// DispatchCommand dispatches compute workgroups.
//
// HAL devices compile WGSL (entry point EntryPoint) and dispatch it. The
// software device calls Kernel once per workgroup instead.
type DispatchCommand struct {
	Label      string
	WGSL       string
	EntryPoint string
	Groups     [3]uint32
	Kernel     func(x, y, z uint32)
}

// Type implements Command.
func (DispatchCommand) Type() CommandType { return CmdDispatch }

// Textures implements Command.
func (DispatchCommand) Textures() []Texture { return nil }

// HostTaskCommand runs Fn in command order. See Caps.HostTasks.
type HostTaskCommand struct {
	Fn func()
}

// Type implements Command.
func (HostTaskCommand) Type() CommandType { return CmdHostTask }

// Textures implements Command.
func (HostTaskCommand) Textures() []Texture { return nil }

// ReadbackCommand copies Rect of Src into Dst, one row every BytesPerRow
// bytes, pixels in the source format.
type ReadbackCommand struct {
	Src         Texture
	Rect        image.Rectangle
	Dst         Buffer
	BytesPerRow uint32
}

// Type implements Command.
func (ReadbackCommand) Type() CommandType { return CmdReadback }

// Textures implements Command.
func (c ReadbackCommand) Textures() []Texture { return []Texture{c.Src} }
