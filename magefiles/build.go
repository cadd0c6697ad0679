//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders into <name>.spv next to it.
func (Build) Shaders() error {
	return buildShaders()
}

// Tidies the module and builds the testbed binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if err := tidy(); err != nil {
		return err
	}
	return goCmd("build", "-o", "bin/umbra", ".")
}

func buildShaders() error {
	if err := requireTool("glslc"); err != nil {
		return err
	}
	sources, err := shaderSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shader sources under %s", shaderDir)
	}
	for _, src := range sources {
		out := src + ".spv"
		// Skip stages whose SPIR-V is newer than the source.
		rebuild, err := target.Path(out, src)
		if err != nil {
			return err
		}
		if !rebuild {
			continue
		}
		if err := run("glslc", src, "-o", out); err != nil {
			return err
		}
	}
	return nil
}

func shaderSources() ([]string, error) {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".vert", ".frag", ".comp":
			sources = append(sources, filepath.Join(shaderDir, e.Name()))
		}
	}
	return sources, nil
}
