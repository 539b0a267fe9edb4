package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if c.Desktop.Enabled && c.Desktop.PluginTimeoutMs <= 0 {
		return errors.New("desktop.plugin_timeout_ms must be positive")
	}
	if c.Browser.Enabled && c.Browser.URL == "" {
		return errors.New("browser.url must be set when browser.enabled is true")
	}
	return c.validateLogging()
}

func (c *Config) validateCamera() error {
	if c.Camera.Device < 0 {
		return errors.New("camera.device must not be negative")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera dimensions must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return errors.New("camera.fps must be positive")
	}
	if c.Camera.IdleFPS < 0 || c.Camera.IdleFPS > c.Camera.FPS {
		return errors.New("camera.idle_fps must be between 0 and camera.fps")
	}
	return nil
}

func (c *Config) validateInference() error {
	if c.Inference.LoadTimeoutSeconds <= 0 {
		return errors.New("inference.load_timeout_seconds must be positive")
	}
	if c.Inference.MaxHands <= 0 {
		return errors.New("inference.max_hands must be positive")
	}
	if c.Inference.MinConfidence < 0 || c.Inference.MinConfidence > 1 {
		return errors.New("inference.min_confidence must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
