package engine

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
)

/**
 * @brief Loads the configuration at configPath, falling back to the
 * defaults when the file does not exist, then boots, runs and shuts down
 * the engine for g. SIGINT and SIGTERM stop the main loop cleanly.
 */
func RunApplication(g *Game, configPath string) error {
	cfg, err := config.Load(configPath)
	watch := err == nil
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("no configuration at '%s', using defaults", configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return err
	}

	e, err := New(g, cfg)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		return err
	}
	if watch {
		if err := e.WatchConfig(configPath); err != nil {
			core.LogWarn("configuration will not be reloaded: %s", err)
		}
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			e.Stop()
		}
	}()

	runErr := e.Run()
	return errors.Join(runErr, e.Shutdown())
}
