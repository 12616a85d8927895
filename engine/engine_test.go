package engine

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/platform/headless"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
	"github.com/spaghettifunk/lumen/engine/renderer/soft"
)

// testHost minimizes the surface at a given tick, the way a user would
// between two frames.
type testHost struct {
	*headless.Headless
	minimizeAt uint64
	waits      int
}

func (h *testHost) PollEvents() {
	h.Headless.PollEvents()
	if h.minimizeAt != 0 && h.Ticks() == h.minimizeAt {
		h.Minimize()
	}
}

func (h *testHost) WaitEvents() {
	h.waits++
	h.Headless.WaitEvents()
}

type testBackend struct {
	minimizeAt uint64
	host       *testHost
	device     *soft.Device
}

func (b *testBackend) create(config *core.Config, events *core.EventBus) (platform.Host, driver.Device, error) {
	b.host = &testHost{Headless: headless.New(config, events), minimizeAt: b.minimizeAt}
	b.device = soft.New(b.host.Surface())
	return b.host, b.device, nil
}

func useBackend(t *testing.T, b *testBackend) {
	t.Helper()
	prev := backends[core.BackendSoft]
	RegisterBackend(core.BackendSoft, b.create)
	t.Cleanup(func() { backends[core.BackendSoft] = prev })
}

func headlessConfig(frames uint64, resizeAt ...uint64) *core.Config {
	cfg := core.DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.Renderer.Backend = core.BackendSoft
	cfg.Window.Width, cfg.Window.Height = 64, 48
	cfg.Headless.Frames = frames
	cfg.Headless.ResizeAt = resizeAt
	return cfg
}

// gameLog records what the engine asked of the game.
type gameLog struct {
	updates  int
	resizes  [][2]uint32
	shutdown bool
}

func newTestGame(cfg *core.Config) (*Game, *gameLog) {
	log := &gameLog{}
	triangle := renderer.Mesh{
		Positions: []math.Vec3{math.NewVec3(0, 0, 0), math.NewVec3(1, 0, 0), math.NewVec3(0, 1, 0)},
		Indices:   []uint32{0, 1, 2},
	}
	g := &Game{
		Config: cfg,
		State:  log,
		FnInitialize: func(r *renderer.Renderer) error {
			mesh, err := r.UploadMesh(triangle)
			if err != nil {
				return err
			}
			return r.BuildScene([]renderer.SceneInstance{{Mesh: mesh, Transform: math.NewAffineIdentity()}})
		},
		FnUpdate: func(r *renderer.Renderer, _ float64) error {
			log.updates++
			return r.SetTransform(0, math.NewAffineRotationY(float32(log.updates)*0.1))
		},
		FnOnResize: func(width, height uint32) error {
			log.resizes = append(log.resizes, [2]uint32{width, height})
			return nil
		},
		FnShutdown: func() error {
			log.shutdown = true
			return nil
		},
	}
	return g, log
}

func start(t *testing.T, g *Game) *Engine {
	t.Helper()
	e, err := New(g, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestHeadlessRunWithResize(t *testing.T) {
	b := &testBackend{}
	useBackend(t, b)
	g, log := newTestGame(headlessConfig(10, 4))
	e := start(t, g)

	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	// Ticks 1-9 reach the renderer; the frame at the resize tick finds the
	// swapchain out of date and is skipped.
	submitted, skipped := e.Frames()
	if submitted != 8 || skipped != 1 {
		t.Errorf("frames = %d submitted, %d skipped, want 8 and 1", submitted, skipped)
	}
	if log.updates != 9 {
		t.Errorf("updates = %d, want 9", log.updates)
	}
	want := [][2]uint32{{64, 48}, {32, 24}}
	if len(log.resizes) != len(want) || log.resizes[0] != want[0] || log.resizes[1] != want[1] {
		t.Errorf("resizes = %v, want %v", log.resizes, want)
	}
	if w, h := e.GetFramebufferSize(); w != 32 || h != 24 {
		t.Errorf("framebuffer size = %dx%d", w, h)
	}
	if !log.shutdown {
		t.Error("game shutdown was not called")
	}
	if live := b.device.Live(); live != (soft.LiveObjects{}) {
		t.Errorf("live objects after teardown: %+v", live)
	}
	if err := e.Run(); !errors.Is(err, core.ErrRendererBooting) {
		t.Errorf("second Run: %v", err)
	}
}

func TestSuspendWhileMinimized(t *testing.T) {
	b := &testBackend{minimizeAt: 3}
	useBackend(t, b)
	g, log := newTestGame(headlessConfig(8))
	e := start(t, g)

	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	// Tick 3 suspends and restores without drawing, tick 4 rebuilds the
	// image set.
	submitted, skipped := e.Frames()
	if submitted != 5 || skipped != 1 {
		t.Errorf("frames = %d submitted, %d skipped, want 5 and 1", submitted, skipped)
	}
	if b.host.waits != 1 {
		t.Errorf("host waited %d times, want 1", b.host.waits)
	}
	if log.updates != 6 {
		t.Errorf("updates = %d, want 6", log.updates)
	}
	// The zero size is not forwarded; the restore is.
	if len(log.resizes) != 2 || log.resizes[1] != [2]uint32{64, 48} {
		t.Errorf("resizes = %v", log.resizes)
	}
	if e.isSuspended {
		t.Error("engine still suspended")
	}
}

func TestShutdownStopsRun(t *testing.T) {
	b := &testBackend{}
	useBackend(t, b)
	g, log := newTestGame(headlessConfig(0))
	var e *Engine
	update := g.FnUpdate
	g.FnUpdate = func(r *renderer.Renderer, dt float64) error {
		if log.updates == 2 {
			_ = e.Shutdown()
		}
		return update(r, dt)
	}
	e = start(t, g)

	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if submitted, _ := e.Frames(); submitted != 3 {
		t.Errorf("submitted = %d, want 3", submitted)
	}
	if live := b.device.Live(); live != (soft.LiveObjects{}) {
		t.Errorf("live objects after teardown: %+v", live)
	}
}

func TestRunReportsErrors(t *testing.T) {
	updateErr := errors.New("update failed")
	shutdownErr := errors.New("shutdown failed")

	tests := []struct {
		name     string
		update   bool
		shutdown bool
		want     []error
	}{
		{"update", true, false, []error{updateErr}},
		{"shutdown", false, true, []error{shutdownErr}},
		{"update wins over shutdown", true, true, []error{updateErr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &testBackend{}
			useBackend(t, b)
			g, log := newTestGame(headlessConfig(5))
			if tt.update {
				g.FnUpdate = func(*renderer.Renderer, float64) error { return updateErr }
			}
			if tt.shutdown {
				g.FnShutdown = func() error {
					log.shutdown = true
					return shutdownErr
				}
			}
			e := start(t, g)

			err := e.Run()
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("Run() = %v, want %v", err, want)
				}
			}
			if tt.update {
				if submitted, _ := e.Frames(); submitted != 0 {
					t.Errorf("submitted = %d after a failed update", submitted)
				}
			}
			// Teardown runs to the end regardless of which step failed.
			if live := b.device.Live(); live != (soft.LiveObjects{}) {
				t.Errorf("live objects after teardown: %+v", live)
			}
		})
	}
}

func TestMissingBackend(t *testing.T) {
	cfg := headlessConfig(1)
	cfg.Renderer.Backend = core.BackendVulkan
	g, _ := newTestGame(cfg)
	e, err := New(g, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Initialize() = %v, want invalid argument", err)
	}
}
