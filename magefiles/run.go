//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Engine runs the testbed in a window.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	return goTool("run", ".", "-config", "lumen.toml")
}

// Headless runs a few hundred frames of the testbed without a GPU.
func (Run) Headless() error {
	return goTool("run", ".", "-config", "lumen.toml", "-headless", "-frames", "600")
}

type Test mg.Namespace

// All runs the unit tests.
func (Test) All() error {
	return goTool("test", "./...")
}

// Race runs the unit tests with the race detector.
func (Test) Race() error {
	return goTool("test", "-race", "-count=1", "./...")
}
