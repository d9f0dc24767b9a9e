package mapped

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/driver/soft"
	"github.com/gogpu/graphite/internal/resource"
)

type fixture struct {
	dev  *soft.Device
	prov *resource.Provider
	m    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := soft.New(soft.WithCopyRowAlignment(256))
	prov := resource.NewProvider(dev, 0, nil)
	t.Cleanup(func() {
		prov.Close()
		dev.Destroy()
	})
	return &fixture{dev: dev, prov: prov, m: NewManager(dev, prov, nil)}
}

// filledRequest fills a 2x2 RGBA texture with c, copies it into a staging
// buffer and returns the request for it.
func (f *fixture) filledRequest(t *testing.T, c color.NRGBA, dst gputypes.TextureFormat, cb Callback) *Request {
	t.Helper()
	tex, err := f.prov.FindOrCreateScratchTexture(device.TextureDesc{Width: 2, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}
	staging, err := f.prov.FindOrCreateScratchBuffer(device.BufferDesc{
		Size:  256 * 2,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	rect := image.Rect(0, 0, 2, 2)
	fence, err := f.dev.Submit([]device.Command{
		device.ClearCommand{Target: tex.Texture(), Color: c},
		device.ReadbackCommand{Src: tex.Texture(), Rect: rect, Dst: staging.Buffer(), BytesPerRow: 256},
	}, device.SubmitInfo{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.dev.Wait(context.Background(), fence); err != nil {
		t.Fatal(err)
	}
	f.prov.Unref(tex)

	req := &Request{
		SrcFormat:   gputypes.TextureFormatRGBA8Unorm,
		DstFormat:   dst,
		Rect:        rect,
		Staging:     staging,
		BytesPerRow: 256,
		Callback:    cb,
	}
	f.m.Register(req)
	return req
}

func TestDeliverConvertsAndReleases(t *testing.T) {
	f := newFixture(t)

	var got []byte
	calls := 0
	req := f.filledRequest(t, color.NRGBA{R: 1, G: 2, B: 3, A: 4}, gputypes.TextureFormatBGRA8Unorm, func(r *Result) {
		calls++
		if r == nil {
			t.Fatal("nil result")
		}
		got = append([]byte(nil), r.Pixels...)
		if r.RowBytes != 8 || r.Width != 2 || r.Height != 2 {
			t.Errorf("result geometry = %d/%dx%d", r.RowBytes, r.Width, r.Height)
		}
	})
	staging := req.Staging

	f.m.Process()
	if calls != 0 {
		t.Fatal("delivered before completion")
	}

	f.m.Complete(req, true)
	f.m.Process()
	f.m.Process()
	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
	for i := 0; i < len(got); i += 4 {
		if got[i] != 3 || got[i+1] != 2 || got[i+2] != 1 || got[i+3] != 4 {
			t.Fatalf("pixel %d = %v, want BGRA swizzle", i/4, got[i:i+4])
		}
	}
	if staging.UsageRefs() != 0 {
		t.Error("staging buffer not released")
	}
	if f.m.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", f.m.Outstanding())
	}
}

func TestDeliveryFollowsCompletionOrder(t *testing.T) {
	f := newFixture(t)

	var order []string
	a := f.filledRequest(t, color.NRGBA{A: 255}, gputypes.TextureFormatRGBA8Unorm, func(*Result) { order = append(order, "a") })
	b := f.filledRequest(t, color.NRGBA{A: 255}, gputypes.TextureFormatRGBA8Unorm, func(*Result) { order = append(order, "b") })

	f.m.Complete(b, true)
	f.m.Complete(a, true)
	f.m.Process()

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Errorf("order = %v, want [b a]", order)
	}
}

func TestFailedAndRejected(t *testing.T) {
	f := newFixture(t)

	var results []*Result
	cb := func(r *Result) { results = append(results, r) }
	req := f.filledRequest(t, color.NRGBA{A: 255}, gputypes.TextureFormatRGBA8Unorm, cb)
	f.m.Complete(req, false)
	f.m.Reject(cb)
	f.m.Process()

	if len(results) != 2 || results[0] != nil || results[1] != nil {
		t.Errorf("results = %v, want two nil", results)
	}
}

func TestFailAllExactlyOnce(t *testing.T) {
	f := newFixture(t)

	const n = 5
	calls := make([]int, n)
	reqs := make([]*Request, n)
	for i := 0; i < n; i++ {
		i := i
		reqs[i] = f.filledRequest(t, color.NRGBA{A: 255}, gputypes.TextureFormatRGBA8Unorm, func(r *Result) {
			if r != nil {
				t.Errorf("request %d delivered data during teardown", i)
			}
			calls[i]++
		})
	}
	f.m.Complete(reqs[0], true)

	f.m.FailAll()
	f.m.FailAll()
	f.m.Process()
	f.m.Complete(reqs[1], true)
	f.m.Process()

	for i, c := range calls {
		if c != 1 {
			t.Errorf("request %d fired %d times", i, c)
		}
	}
	if s := f.prov.Stats(); s.Idle == 0 {
		t.Error("staging buffers not returned to the pool")
	}
}
