package testbed

import (
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	// Accumulated time driving the spinning instance, in seconds.
	elapsed float64
	// Index of the instance animated every frame.
	spinning int
}

// The triangle used by every instance.
var triangle = renderer.Mesh{
	Positions: []math.Vec3{
		math.NewVec3(-0.5, -0.5, 0),
		math.NewVec3(0.5, -0.5, 0),
		math.NewVec3(0, 0.5, 0),
	},
	Indices: []uint32{0, 1, 2},
}

func NewTestGame(config *core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: config,
			State:  &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Initialize builds a row of three triangles sharing one bottom level
// structure. The middle one spins.
func (g *TestGame) Initialize(r *renderer.Renderer) error {
	core.LogInfo("initializing testbed...")

	mesh, err := r.UploadMesh(triangle)
	if err != nil {
		return err
	}
	instances := []renderer.SceneInstance{
		{Mesh: mesh, Transform: math.NewAffineTranslation(math.NewVec3(-1.5, 0, 0))},
		{Mesh: mesh, Transform: math.NewAffineIdentity()},
		{Mesh: mesh, Transform: math.NewAffineTranslation(math.NewVec3(1.5, 0, 0))},
	}
	if err := r.BuildScene(instances); err != nil {
		return err
	}
	g.state().spinning = 1

	// Sanity check that the scene made it to the device intact.
	hit, ok, err := r.Trace(math.NewVec3(0, 0, -5), math.NewVec3(0, 0, 1))
	if err != nil {
		return err
	}
	if !ok {
		core.LogWarn("center ray missed the scene")
	} else {
		core.LogDebug("center ray hit instance %d at t=%.2f", hit.Instance, hit.T)
	}
	return nil
}

func (g *TestGame) Update(r *renderer.Renderer, deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime
	rotation := math.NewAffineRotationY(float32(0.5 * s.elapsed))
	return r.SetTransform(s.spinning, rotation)
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	return nil
}
