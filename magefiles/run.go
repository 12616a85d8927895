//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine in a window with the vulkan backend.
func (Run) Engine() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run engine...")
	if _, err := executeCmd("bin/lumen", withArgs("-config", "lumen.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the engine on the software device without a window.
func (Run) Headless() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run headless...")
	if _, err := executeCmd("bin/lumen", withArgs("-config", "lumen.headless.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
