//go:build mage

package main

import (
	"fmt"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// goCmd runs a go subcommand, echoing its output when mage runs verbose.
func goCmd(args ...string) error {
	return run("go", args...)
}

// run streams the command's output and tags failures with the command name.
func run(cmd string, args ...string) error {
	if mg.Verbose() {
		fmt.Printf("exec: %s %v\n", cmd, args)
	}
	if err := sh.RunV(cmd, args...); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// requireTool fails early with a readable message when a binary is missing from PATH.
func requireTool(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	return nil
}

func tidy() error {
	return goCmd("mod", "tidy")
}
