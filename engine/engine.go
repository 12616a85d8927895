package engine

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// metricsInterval is the number of seconds between two frame time reports.
const metricsInterval = 5.0

type Engine struct {
	currentStage Stage
	gameInstance *Game
	configPath   string

	events   *core.EventBus
	host     platform.Host
	renderer *renderer.Renderer
	watcher  *assets.ConfigWatcher
	clock    *core.Clock
	metrics  *core.FrameMetrics

	// isRunning is cleared by Shutdown, which may run on the signal goroutine.
	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32
	lastTime    float64
	frames      uint64
	skipped     uint64
}

// New prepares an engine for g. configPath is watched for changes once the
// engine is initialized; an empty path disables the watcher.
func New(g *Game, configPath string) (*Engine, error) {
	if g.Config == nil {
		g.Config = core.DefaultConfig()
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(g.Config.LogLevel); err != nil {
		return nil, errors.Wrapf(err, "log level %q", g.Config.LogLevel)
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		configPath:   configPath,
		events:       core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        g.Config.Window.Width,
		height:       g.Config.Window.Height,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	config := e.gameInstance.Config

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	host, device, err := createBackend(config, e.events)
	if err != nil {
		return err
	}
	e.host = host

	r, err := renderer.New(device, host, e.events, renderer.Options{
		FramesInFlight: int(config.Renderer.FramesInFlight),
		PreferMailbox:  config.Renderer.PreferMailbox,
		ClearColor:     config.Renderer.ClearColor,
	})
	if err != nil {
		host.Shutdown()
		return err
	}
	e.renderer = r

	if e.configPath != "" {
		w, err := assets.NewConfigWatcher(e.configPath, e.onConfigReloaded)
		if err != nil {
			core.LogWarn("configuration changes will not be applied: %v", err)
		} else {
			e.watcher = w
		}
	}

	if err := e.gameInstance.FnInitialize(e.renderer); err != nil {
		return err
	}
	if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
		return err
	}

	e.isRunning.Store(true)
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the main loop until the window closes, the headless frame
// budget is spent or Shutdown is called, then tears everything down.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return core.ErrRendererBooting
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	var lastReport float64

	var runErr error
	for e.isRunning.Load() {
		e.host.PollEvents()
		if e.host.ShouldClose() {
			break
		}

		if e.isSuspended {
			e.host.WaitEvents()
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.gameInstance.FnUpdate(e.renderer, delta); err != nil {
			core.LogError("Game update failed, shutting down.")
			runErr = err
			break
		}

		submitted, err := e.renderer.DrawFrame()
		if err != nil {
			core.LogError("Frame failed, shutting down.")
			runErr = err
			break
		}
		if submitted {
			e.frames++
		} else {
			e.skipped++
		}

		e.metrics.Update(delta)
		if currentTime-lastReport >= metricsInterval {
			core.LogInfo("frame time %.3fms, %.0f fps, %d frames, %d skipped", e.metrics.FrameTime(), e.metrics.FPS(), e.frames, e.skipped)
			lastReport = currentTime
		}

		e.lastTime = currentTime
	}

	e.clock.Stop()
	if err := e.teardown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Frames returns the number of submitted and skipped frames.
func (e *Engine) Frames() (uint64, uint64) {
	return e.frames, e.skipped
}

// Shutdown asks the main loop to stop. It is safe to call from any goroutine.
func (e *Engine) Shutdown() error {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
	return nil
}

func (e *Engine) teardown() error {
	e.currentStage = EngineStageShuttingDown
	var errs error
	if e.watcher != nil {
		errs = errors.CombineErrors(errs, e.watcher.Close())
	}
	if e.gameInstance.FnShutdown != nil {
		errs = errors.CombineErrors(errs, e.gameInstance.FnShutdown())
	}
	errs = errors.CombineErrors(errs, e.renderer.Shutdown())
	errs = errors.CombineErrors(errs, e.host.Shutdown())
	e.events.Shutdown()
	e.currentStage = EngineStageUninitialized
	return errs
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, _ interface{}, _ interface{}, _ core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(_ core.SystemEventCode, _ interface{}, _ interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.gameInstance.FnOnResize(width, height); err != nil {
		core.LogError(err.Error())
	}
	// Not handled: the renderer listens for the same event.
	return false
}

func (e *Engine) onConfigReloaded(cfg *core.Config) {
	core.LogInfo("configuration reloaded, log level %s", cfg.LogLevel)
}
