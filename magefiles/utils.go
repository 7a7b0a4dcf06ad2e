//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// goTool runs the go command mage was built with, output streamed.
func goTool(args ...string) error {
	fmt.Printf("Executing: go %s\n", strings.Join(args, " "))
	if err := sh.RunV(mg.GoCmd(), args...); err != nil {
		return fmt.Errorf("go %s: %w", args[0], err)
	}
	return nil
}
