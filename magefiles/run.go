//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	return goCmd("run", ".", "-config", "umbra.toml")
}

// Runs the unit tests with the race detector.
func (Run) Tests() error {
	return goCmd("test", "-race", "./engine/...", "./testbed/...")
}
