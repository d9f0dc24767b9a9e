// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommandTypeString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{ClearCommand{}, "Clear"},
		{FillRectCommand{}, "FillRect"},
		{WritePixelsCommand{}, "WritePixels"},
		{CopyTextureCommand{}, "CopyTexture"},
		{DrawImageCommand{}, "DrawImage"},
		{DispatchCommand{}, "Dispatch"},
		{HostTaskCommand{}, "HostTask"},
		{ReadbackCommand{}, "Readback"},
	}
	for _, tt := range tests {
		if got := tt.cmd.Type().String(); got != tt.want {
			t.Errorf("Type().String() = %q, want %q", got, tt.want)
		}
	}
	if got := CommandType(200).String(); got != "Unknown" {
		t.Errorf("CommandType(200).String() = %q, want Unknown", got)
	}
}

func TestCommandTextures(t *testing.T) {
	if n := len(CopyTextureCommand{}.Textures()); n != 2 {
		t.Errorf("CopyTextureCommand textures = %d, want 2", n)
	}
	if (DispatchCommand{}).Textures() != nil || (HostTaskCommand{}).Textures() != nil {
		t.Error("dispatch and host tasks reference no textures")
	}
}

func TestAlignedRowBytes(t *testing.T) {
	tests := []struct {
		align, in, want uint32
	}{
		{0, 13, 13},
		{1, 13, 13},
		{256, 1, 256},
		{256, 256, 256},
		{256, 257, 512},
		{4, 6, 8},
	}
	for _, tt := range tests {
		c := Caps{CopyRowAlignment: tt.align}
		if got := c.AlignedRowBytes(tt.in); got != tt.want {
			t.Errorf("AlignedRowBytes(%d) with alignment %d = %d, want %d", tt.in, tt.align, got, tt.want)
		}
	}
}

func TestBackendAPIString(t *testing.T) {
	for b, want := range map[BackendAPI]string{
		BackendDawn:     "Dawn",
		BackendMetal:    "Metal",
		BackendVulkan:   "Vulkan",
		BackendSoftware: "Software",
		BackendAPI(0):   "Unknown(0)",
	} {
		if got := b.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", b, got, want)
		}
	}
}

func TestIsRejection(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrUnsupported, true},
		{fmt.Errorf("soft: command 0 (Dispatch): %w", ErrInvalidCommand), true},
		{fmt.Errorf("native: %w", ErrInvalidHandle), true},
		{ErrDeviceLost, false},
		{fmt.Errorf("%w: %w", ErrDeviceLost, ErrUnsupported), false},
		{ErrOutOfMemory, false},
		{errors.New("driver crashed"), false},
	}
	for _, tt := range tests {
		if got := IsRejection(tt.err); got != tt.want {
			t.Errorf("IsRejection(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
