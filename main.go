/*
Lumen renders a small animated scene through the ray tracing acceleration
structure stack, either to a window (vulkan) or headless (soft).
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/platform/desktop"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/testbed"
)

func init() {
	engine.RegisterBackend(core.BackendVulkan, vulkanBackend)
}

// vulkanBackend opens a GLFW window and a Vulkan device presenting to it.
func vulkanBackend(config *core.Config, events *core.EventBus) (platform.Host, driver.Device, error) {
	window, err := desktop.NewWindow(config, events)
	if err != nil {
		return nil, nil, err
	}
	device, err := vulkan.New(window, vulkan.Config{
		ApplicationName: config.Name,
		Debug:           config.Renderer.Debug,
	})
	if err != nil {
		window.Shutdown()
		return nil, nil, errors.Wrap(err, "creating vulkan device")
	}
	return window, device, nil
}

func main() {
	configPath := flag.String("config", "lumen.toml", "path to the configuration file")
	flag.Parse()

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%v", err)
	}

	tb := testbed.NewTestGame(config)

	engine, err := engine.New(tb.Game, *configPath)
	if err != nil {
		core.LogFatal("%+v", err)
	}

	if err := engine.Initialize(); err != nil {
		core.LogFatal("%+v", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = engine.Shutdown()
	}()

	// run engine
	if err := engine.Run(); err != nil {
		core.LogFatal("%+v", err)
	}
}
