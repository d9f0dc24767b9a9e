// Package pixel holds the CPU-side pixel helpers shared by the drivers and the
// readback path: format tables, solid fills, channel swizzles and scaled image
// rasterization.
//
// Pixels are stored unpremultiplied, 8 bits per channel. R8Unorm textures store
// only the alpha channel.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
)

// ErrUnsupportedFormat is returned for formats outside the 8-bit set.
var ErrUnsupportedFormat = errors.New("pixel: unsupported format")

// BytesPerPixel returns the size of one pixel, or 0 for unsupported formats.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 0
	}
}

// Supported reports whether f can be filled, converted and read back.
func Supported(f gputypes.TextureFormat) bool {
	return BytesPerPixel(f) != 0
}

// Encode writes c into px using format f. px must hold BytesPerPixel(f) bytes.
func Encode(px []byte, f gputypes.TextureFormat, c color.NRGBA) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
	case gputypes.TextureFormatBGRA8Unorm:
		px[0], px[1], px[2], px[3] = c.B, c.G, c.R, c.A
	case gputypes.TextureFormatR8Unorm:
		px[0] = c.A
	}
}

// Decode reads one pixel in format f.
func Decode(px []byte, f gputypes.TextureFormat) color.NRGBA {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
	case gputypes.TextureFormatBGRA8Unorm:
		return color.NRGBA{R: px[2], G: px[1], B: px[0], A: px[3]}
	case gputypes.TextureFormatR8Unorm:
		return color.NRGBA{A: px[0]}
	default:
		return color.NRGBA{}
	}
}

// Fill sets every pixel of r in dst to c. dst holds an image of the given
// bounds with stride bytes per row; r is clipped to bounds.
func Fill(dst []byte, stride int, bounds image.Rectangle, f gputypes.TextureFormat, r image.Rectangle, c color.NRGBA) {
	bpp := BytesPerPixel(f)
	if bpp == 0 {
		return
	}
	r = r.Intersect(bounds)
	if r.Empty() {
		return
	}

	var one [4]byte
	Encode(one[:bpp], f, c)

	// Encode the first row, then copy it down.
	first := r.Min.Y*stride + r.Min.X*bpp
	rowLen := r.Dx() * bpp
	row := dst[first : first+rowLen]
	for i := 0; i < rowLen; i += bpp {
		copy(row[i:i+bpp], one[:bpp])
	}
	for y := r.Min.Y + 1; y < r.Max.Y; y++ {
		off := y*stride + r.Min.X*bpp
		copy(dst[off:off+rowLen], row)
	}
}

// Solid returns a tightly packed block of w*h pixels of color c.
func Solid(f gputypes.TextureFormat, w, h int, c color.NRGBA) []byte {
	bpp := BytesPerPixel(f)
	out := make([]byte, w*h*bpp)
	Fill(out, w*bpp, image.Rect(0, 0, w, h), f, image.Rect(0, 0, w, h), c)
	return out
}

// CopyRect copies a w*h block between two images of the same format.
func CopyRect(dst []byte, dstStride int, dstPt image.Point, src []byte, srcStride int, srcPt image.Point, w, h, bpp int) {
	rowLen := w * bpp
	for y := 0; y < h; y++ {
		s := (srcPt.Y+y)*srcStride + srcPt.X*bpp
		d := (dstPt.Y+y)*dstStride + dstPt.X*bpp
		copy(dst[d:d+rowLen], src[s:s+rowLen])
	}
}

// Convert copies a w*h block from src (format sf) into dst (format df),
// converting each pixel. Identical formats degrade to a row copy.
func Convert(dst []byte, dstRowBytes int, df gputypes.TextureFormat,
	src []byte, srcRowBytes int, sf gputypes.TextureFormat, w, h int) error {
	sbpp, dbpp := BytesPerPixel(sf), BytesPerPixel(df)
	if sbpp == 0 || dbpp == 0 {
		return fmt.Errorf("%w: %v -> %v", ErrUnsupportedFormat, sf, df)
	}
	if len(src) < (h-1)*srcRowBytes+w*sbpp || len(dst) < (h-1)*dstRowBytes+w*dbpp {
		return fmt.Errorf("pixel: buffer too small for %dx%d block", w, h)
	}

	if sf == df {
		CopyRect(dst, dstRowBytes, image.Point{}, src, srcRowBytes, image.Point{}, w, h, sbpp)
		return nil
	}

	for y := 0; y < h; y++ {
		s := src[y*srcRowBytes:]
		d := dst[y*dstRowBytes:]
		for x := 0; x < w; x++ {
			Encode(d[x*dbpp:(x+1)*dbpp], df, Decode(s[x*sbpp:(x+1)*sbpp], sf))
		}
	}
	return nil
}
