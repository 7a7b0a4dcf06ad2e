package shader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/magefile/mage/sh"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Compiler turns GLSL into SPIR-V with glslc. Sources and binaries are kept
// in a cache directory so unchanged programs are compiled once.
type Compiler struct {
	dir  string
	tool string
	run  func(cmd string, args ...string) error

	mu sync.Mutex
}

func NewCompiler(dir string) (*Compiler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Compiler{dir: dir, tool: "glslc", run: sh.Run}, nil
}

func (c *Compiler) Dir() string {
	return c.dir
}

// Compile fills m.SPIRV, reusing the cached binary when the source did not
// change.
func (c *Compiler) Compile(m gpu.ShaderModule) (gpu.ShaderModule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := filepath.Join(c.dir, m.Name+"."+m.Stage.String())
	out := src + ".spv"

	cached, err := os.ReadFile(src)
	if err == nil && bytes.Equal(cached, []byte(m.Source)) {
		if spirv, err := os.ReadFile(out); err == nil {
			m.SPIRV = spirv
			return m, nil
		}
	}

	if err := os.WriteFile(src, []byte(m.Source), 0o644); err != nil {
		return m, err
	}
	if err := c.run(c.tool, "-fshader-stage="+m.Stage.String(), src, "-o", out); err != nil {
		core.LogError("failed to compile %s: %s", src, err)
		// a failed source must not match the cache next time
		os.Remove(src)
		return m, fmt.Errorf("shader: compile %s: %w", m.Name, err)
	}
	spirv, err := os.ReadFile(out)
	if err != nil {
		return m, err
	}
	core.LogDebug("compiled %s (%d bytes)", out, len(spirv))
	m.SPIRV = spirv
	return m, nil
}
