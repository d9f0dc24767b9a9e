package pixel

import (
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"
)

// Scaler returns the x/image/draw scaler for a linear or nearest filter.
func Scaler(linear bool) xdraw.Scaler {
	if linear {
		return xdraw.BiLinear
	}
	return xdraw.NearestNeighbor
}

// Rasterize scales img to the size of dstRect and returns it as a tightly
// packed block in format f.
func Rasterize(img image.Image, dstRect image.Rectangle, f gputypes.TextureFormat, linear bool) []byte {
	w, h := dstRect.Dx(), dstRect.Dy()
	if w <= 0 || h <= 0 || img == nil {
		return nil
	}

	tmp := image.NewNRGBA(image.Rect(0, 0, w, h))
	Scaler(linear).Scale(tmp, tmp.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	if f == gputypes.TextureFormatRGBA8Unorm {
		return tmp.Pix
	}

	bpp := BytesPerPixel(f)
	out := make([]byte, w*h*bpp)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := tmp.PixOffset(x, y)
			c := color.NRGBA{R: tmp.Pix[i], G: tmp.Pix[i+1], B: tmp.Pix[i+2], A: tmp.Pix[i+3]}
			Encode(out[(y*w+x)*bpp:(y*w+x+1)*bpp], f, c)
		}
	}
	return out
}

// DrawImage rasterizes img into dstRect of dst, clipping to bounds.
func DrawImage(dst []byte, stride int, bounds image.Rectangle, f gputypes.TextureFormat,
	img image.Image, dstRect image.Rectangle, linear bool) {
	block := Rasterize(img, dstRect, f, linear)
	if block == nil {
		return
	}
	clip := dstRect.Intersect(bounds)
	if clip.Empty() {
		return
	}
	bpp := BytesPerPixel(f)
	srcPt := clip.Min.Sub(dstRect.Min)
	CopyRect(dst, stride, clip.Min, block, dstRect.Dx()*bpp, srcPt, clip.Dx(), clip.Dy(), bpp)
}
