//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the whole test suite. The engine package links glfw and needs cgo.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the GPU core tests only; they use the in-memory backend and need no display.
func (Test) Gpu() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/renderer/gpu/...", "./engine/core/...", "./engine/config/..."), withStream())
	return err
}
