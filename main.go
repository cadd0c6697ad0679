/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"

	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/testbed"
)

func main() {
	configPath := flag.String("config", "umbra.toml", "path to the engine configuration")
	flag.Parse()

	if err := engine.RunApplication(testbed.NewTestGame().Game, *configPath); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}
