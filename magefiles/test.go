//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Packages that build without cgo. The vulkan backend and the glfw window
// need the system libraries and are left to Test.All.
var portablePackages = []string{
	"./engine/core/...",
	"./engine/math/...",
	"./engine/containers/...",
	"./engine/assets/...",
	"./engine/platform/headless/...",
	"./engine/renderer/driver/...",
	"./engine/renderer/soft/...",
	"./engine/renderer/allocator/...",
	"./engine/renderer/bvh/...",
	"./engine/renderer/accel/...",
	"./engine/renderer/frame/...",
	"./engine/renderer",
	"./engine",
}

// Runs the tests of every package that does not need a GPU.
func (Test) Unit() error {
	_, err := executeCmd("go", withArgs(append([]string{"test", "-count=1"}, portablePackages...)...), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs(append([]string{"test", "-race", "-count=1"}, portablePackages...)...), withStream())
	return err
}

// Runs every test in the module.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-count=1", "./..."), withStream())
	return err
}
