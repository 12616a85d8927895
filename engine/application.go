package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/platform/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
	"github.com/spaghettifunk/lumen/engine/renderer/soft"
)

// BackendFactory opens the window system and the device of one renderer
// backend.
type BackendFactory func(config *core.Config, events *core.EventBus) (platform.Host, driver.Device, error)

var backends = map[core.Backend]BackendFactory{
	core.BackendSoft: softBackend,
}

// RegisterBackend makes a backend selectable through the configuration,
// replacing any previous registration under the same name. The soft backend
// is always available; windowed backends are registered by the binary that
// links them. Must be called before Initialize.
func RegisterBackend(name core.Backend, factory BackendFactory) {
	backends[name] = factory
}

func softBackend(config *core.Config, events *core.EventBus) (platform.Host, driver.Device, error) {
	host := headless.New(config, events)
	core.LogInfo("using the software device, headless %dx%d", config.Window.Width, config.Window.Height)
	return host, soft.New(host.Surface()), nil
}

// createBackend opens the window system and the device selected by the
// configuration.
func createBackend(config *core.Config, events *core.EventBus) (platform.Host, driver.Device, error) {
	factory, ok := backends[config.Renderer.Backend]
	if !ok {
		return nil, nil, errors.Mark(errors.Newf("renderer backend %q is not available in this build", config.Renderer.Backend), core.ErrInvalidArgument)
	}
	return factory(config, events)
}
