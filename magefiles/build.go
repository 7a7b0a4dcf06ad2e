//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Build mg.Namespace

const binary = "bin/lumen"

// Engine compiles the testbed binary into bin/.
func (Build) Engine() error {
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	if err := goTool("build", "-o", binary, "."); err != nil {
		return err
	}
	fmt.Printf("built %s\n", binary)
	return nil
}

// Vet runs go vet over every package.
func (Build) Vet() error {
	return goTool("vet", "./...")
}

// Shaders checks that glslc, used at runtime to compile the generated
// programs, is installed.
func (Build) Shaders() error {
	out, err := sh.Output("glslc", "--version")
	if err != nil {
		return fmt.Errorf("glslc is required by the vulkan backend: %w", err)
	}
	fmt.Println(out)
	return nil
}

// Clean removes the binary and the compiled shader cache.
func (Build) Clean() error {
	if err := sh.Rm("bin"); err != nil {
		return err
	}
	return sh.Rm(".cache/shaders")
}
