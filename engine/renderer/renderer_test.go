package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/platform/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/soft"
)

var triangle = Mesh{
	Positions: []math.Vec3{
		math.NewVec3(0, 0, 0),
		math.NewVec3(1, 0, 0),
		math.NewVec3(0, 1, 0),
	},
	Indices: []uint32{0, 1, 2},
}

type fixture struct {
	host     *headless.Headless
	dev      *soft.Device
	events   *core.EventBus
	renderer *Renderer
}

func newFixture(t *testing.T, resizeAt ...uint64) *fixture {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Window.Width = 800
	cfg.Window.Height = 600
	cfg.Headless.ResizeAt = resizeAt
	events := core.NewEventBus()
	host := headless.New(cfg, events)
	dev := soft.New(host.Surface())
	r, err := New(dev, host, events, Options{FramesInFlight: 2, ClearColor: cfg.Renderer.ClearColor})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{host: host, dev: dev, events: events, renderer: r}
}

func (f *fixture) draw(t *testing.T) bool {
	t.Helper()
	f.host.PollEvents()
	ok, err := f.renderer.DrawFrame()
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestDrawFrameClearsImages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if !f.draw(t) {
			t.Fatalf("frame %d skipped", i)
		}
	}
	if got := f.dev.Stats().Presents; got != 3 {
		t.Errorf("presents = %d, want 3", got)
	}
	if err := f.dev.DeviceWaitIdle(); err != nil {
		t.Fatal(err)
	}
	targets := f.renderer.Context().Frames.Targets()
	out, ok := f.dev.ImageClearColor(f.renderer.Context().Allocator.Image(targets.Output))
	if !ok {
		t.Fatal("output image was never cleared")
	}
	// The last recorded frame is number 2.
	if want := f.renderer.frameColor(2); out != want {
		t.Errorf("output color = %v, want %v", out, want)
	}
	cleared := 0
	for _, img := range targets.Images {
		if _, ok := f.dev.ImageClearColor(img); ok {
			cleared++
		}
	}
	if cleared == 0 {
		t.Error("no swapchain image was cleared")
	}
}

func TestFrameColorStaysInRange(t *testing.T) {
	f := newFixture(t)
	f.renderer.clearColor = [4]float32{0.9, 0.2, 0, 1}
	for n := uint64(0); n < 240; n++ {
		c := f.renderer.frameColor(n)
		for i, v := range c {
			if v < 0 || v > 1 {
				t.Fatalf("frame %d channel %d = %f", n, i, v)
			}
		}
		if c[3] != 1 {
			t.Fatalf("frame %d alpha = %f", n, c[3])
		}
	}
	if f.renderer.frameColor(0) != f.renderer.frameColor(120) {
		t.Error("color does not repeat every 120 frames")
	}
}

func TestSceneBuildAndUpdate(t *testing.T) {
	f := newFixture(t)
	idx, err := f.renderer.UploadMesh(triangle)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.renderer.BuildScene([]SceneInstance{
		{Mesh: idx, Transform: math.NewAffineIdentity()},
		{Mesh: idx, Transform: math.NewAffineTranslation(math.NewVec3(2, 0, 0))},
	}); err != nil {
		t.Fatal(err)
	}
	tlas := f.renderer.Scene()
	if tlas == nil || tlas.PrimitiveCount() != 2 {
		t.Fatalf("scene = %v", tlas)
	}
	addr := f.renderer.Context().Builder.Address(tlas)

	if err := f.renderer.SetTransform(1, math.NewAffineTranslation(math.NewVec3(10, 0, 0))); err != nil {
		t.Fatal(err)
	}
	if got := tlas.Bounds().Max.X; got != 11 {
		t.Errorf("bounds max x = %f after moving instance 1, want 11", got)
	}
	if f.renderer.Context().Builder.Address(tlas) != addr {
		t.Error("update moved the scene structure")
	}
	if !f.draw(t) {
		t.Error("frame skipped with a scene")
	}
}

func TestTraceReadsBackScene(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.renderer.Trace(math.NewVec3(0, 0, -5), math.NewVec3(0, 0, 1)); !errors.Is(err, core.ErrRendererBooting) {
		t.Errorf("trace without a scene: err = %v", err)
	}

	idx, err := f.renderer.UploadMesh(triangle)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.renderer.BuildScene([]SceneInstance{
		{Mesh: idx, Transform: math.NewAffineIdentity()},
		{Mesh: idx, Transform: math.NewAffineTranslation(math.NewVec3(2, 0, 0))},
	}); err != nil {
		t.Fatal(err)
	}

	forward := math.NewVec3(0, 0, 1)
	tests := []struct {
		name     string
		origin   math.Vec3
		instance int
		hit      bool
	}{
		{"first instance", math.NewVec3(0.25, 0.25, -5), 0, true},
		{"second instance", math.NewVec3(2.25, 0.25, -5), 1, true},
		{"between instances", math.NewVec3(1.5, 0.25, -5), 0, false},
		{"above the scene", math.NewVec3(0.25, 3, -5), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok, err := f.renderer.Trace(tt.origin, forward)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.hit {
				t.Fatalf("hit = %v, want %v", ok, tt.hit)
			}
			if !ok {
				return
			}
			if hit.Instance != tt.instance || hit.Triangle != 0 {
				t.Errorf("hit = %+v, want instance %d", hit, tt.instance)
			}
			if hit.T < 4.999 || hit.T > 5.001 {
				t.Errorf("t = %f, want 5", hit.T)
			}
		})
	}

	// Half a turn around Y mirrors the second triangle onto negative x.
	if err := f.renderer.SetTransform(1, math.NewAffineRotationY(3.1415927)); err != nil {
		t.Fatal(err)
	}
	hit, ok, err := f.renderer.Trace(math.NewVec3(-0.25, 0.25, -5), forward)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || hit.Instance != 1 {
		t.Errorf("after update: hit = %+v, ok = %v, want instance 1", hit, ok)
	}
	if _, ok, _ := f.renderer.Trace(math.NewVec3(2.25, 0.25, -5), forward); ok {
		t.Error("ray hit the old position of the moved instance")
	}
}

func TestUploadMeshRejectsBadGeometry(t *testing.T) {
	f := newFixture(t)
	_, err := f.renderer.UploadMesh(Mesh{Positions: triangle.Positions, Indices: []uint32{0, 1}})
	if !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
	if err := f.renderer.BuildScene([]SceneInstance{{Mesh: 3}}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}

func TestResizeEventRebuildsTargets(t *testing.T) {
	f := newFixture(t, 2)
	var got []core.EventContext
	f.events.Register(core.EVENT_CODE_SWAPCHAIN_RECREATED, t, func(_ core.SystemEventCode, _ interface{}, _ interface{}, data core.EventContext) bool {
		got = append(got, data)
		return false
	})

	f.draw(t)
	// The second tick shrinks the surface; the stale acquire rebuilds.
	if f.draw(t) {
		t.Error("frame submitted on a stale surface")
	}
	if len(got) != 1 {
		t.Fatalf("got %d recreate events, want 1", len(got))
	}
	if got[0].Data.U32[0] != 400 || got[0].Data.U32[1] != 300 || got[0].Data.U64[0] != 2 {
		t.Errorf("event = %+v, want 400x300 generation 2", got[0].Data)
	}
	if !f.draw(t) {
		t.Error("frame skipped after rebuild")
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	f := newFixture(t)
	idx, err := f.renderer.UploadMesh(triangle)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.renderer.BuildScene([]SceneInstance{{Mesh: idx, Transform: math.NewAffineIdentity()}}); err != nil {
		t.Fatal(err)
	}
	f.draw(t)
	if err := f.renderer.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if live := f.dev.Live(); live != (soft.LiveObjects{}) {
		t.Errorf("live objects after shutdown: %+v", live)
	}
	if _, err := f.renderer.DrawFrame(); !errors.Is(err, core.ErrRendererBooting) {
		t.Errorf("DrawFrame after shutdown: %v", err)
	}
	if err := f.renderer.Shutdown(); !errors.Is(err, core.ErrRendererBooting) {
		t.Errorf("second Shutdown: %v", err)
	}
}
