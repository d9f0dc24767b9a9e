package graphite

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/internal/pixel"
)

// ColorType describes the channel layout of pixels handed to and from the
// client.
type ColorType uint8

const (
	// ColorTypeUnknown is not a valid color type.
	ColorTypeUnknown ColorType = iota
	// ColorTypeRGBA8888 stores R, G, B, A bytes.
	ColorTypeRGBA8888
	// ColorTypeBGRA8888 stores B, G, R, A bytes.
	ColorTypeBGRA8888
	// ColorTypeAlpha8 stores only alpha.
	ColorTypeAlpha8
)

var colorTypeNames = [...]string{
	ColorTypeUnknown:  "Unknown",
	ColorTypeRGBA8888: "RGBA8888",
	ColorTypeBGRA8888: "BGRA8888",
	ColorTypeAlpha8:   "Alpha8",
}

func (c ColorType) String() string {
	if int(c) < len(colorTypeNames) {
		return colorTypeNames[c]
	}
	return "Unknown"
}

// Format returns the texture format storing c.
func (c ColorType) Format() gputypes.TextureFormat {
	switch c {
	case ColorTypeRGBA8888:
		return gputypes.TextureFormatRGBA8Unorm
	case ColorTypeBGRA8888:
		return gputypes.TextureFormatBGRA8Unorm
	case ColorTypeAlpha8:
		return gputypes.TextureFormatR8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

// BytesPerPixel returns the pixel size, or 0 for ColorTypeUnknown.
func (c ColorType) BytesPerPixel() int {
	return pixel.BytesPerPixel(c.Format())
}

// IsValid reports whether c is a known color type.
func (c ColorType) IsValid() bool {
	return c.BytesPerPixel() != 0
}

// ColorTypeOf returns the color type stored in textures of format f.
func ColorTypeOf(f gputypes.TextureFormat) ColorType {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return ColorTypeRGBA8888
	case gputypes.TextureFormatBGRA8Unorm:
		return ColorTypeBGRA8888
	case gputypes.TextureFormatR8Unorm:
		return ColorTypeAlpha8
	default:
		return ColorTypeUnknown
	}
}
