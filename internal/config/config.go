package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PALMSCROLL_"

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir" env:"DATA_DIR"`
	PluginDir string `toml:"plugin_dir" env:"PLUGIN_DIR"`
	StaticDir string `toml:"static_dir" env:"STATIC_DIR"`
}

// Server contains the HTTP listener configuration.
type Server struct {
	Addr string `toml:"addr" env:"ADDR"`
}

// Camera contains webcam capture settings.
type Camera struct {
	Device  int `toml:"device" env:"DEVICE"`
	Width   int `toml:"width" env:"WIDTH"`
	Height  int `toml:"height" env:"HEIGHT"`
	FPS     int `toml:"fps" env:"FPS"`
	IdleFPS int `toml:"idle_fps" env:"IDLE_FPS"`
}

// Inference contains settings for the gesture recognizer service.
type Inference struct {
	Python             string  `toml:"python" env:"PYTHON"`
	Script             string  `toml:"script" env:"SCRIPT"`
	ModelPath          string  `toml:"model_path" env:"MODEL_PATH"`
	LoadTimeoutSeconds int     `toml:"load_timeout_seconds" env:"LOAD_TIMEOUT_SECONDS"`
	MaxHands           int     `toml:"max_hands" env:"MAX_HANDS"`
	MinConfidence      float64 `toml:"min_confidence" env:"MIN_CONFIDENCE"`
}

// Browser contains settings for the built-in Chromium tab.
type Browser struct {
	Enabled  bool   `toml:"enabled" env:"ENABLED"`
	URL      string `toml:"url" env:"URL"`
	Headless bool   `toml:"headless" env:"HEADLESS"`
	Install  bool   `toml:"install" env:"INSTALL"`
}

// Desktop contains settings for the desktop tab driven by action plugins.
type Desktop struct {
	Enabled         bool `toml:"enabled" env:"ENABLED"`
	PluginTimeoutMs int  `toml:"plugin_timeout_ms" env:"PLUGIN_TIMEOUT_MS"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// Telemetry contains OpenTelemetry export settings. Tracing is off while
// OTLPEndpoint is empty.
type Telemetry struct {
	OTLPEndpoint string `toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `toml:"service_name" env:"SERVICE_NAME"`
}

// Tray contains system tray settings.
type Tray struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
}

// Config encapsulates all configuration values for palmscroll.
type Config struct {
	Paths     Paths     `toml:"paths" envPrefix:"PATHS_"`
	Server    Server    `toml:"server" envPrefix:"SERVER_"`
	Camera    Camera    `toml:"camera" envPrefix:"CAMERA_"`
	Inference Inference `toml:"inference" envPrefix:"INFERENCE_"`
	Browser   Browser   `toml:"browser" envPrefix:"BROWSER_"`
	Desktop   Desktop   `toml:"desktop" envPrefix:"DESKTOP_"`
	Logging   Logging   `toml:"logging" envPrefix:"LOGGING_"`
	Telemetry Telemetry `toml:"telemetry" envPrefix:"TELEMETRY_"`
	Tray      Tray      `toml:"tray" envPrefix:"TRAY_"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/palmscroll/config.toml")
}

// Load locates, parses, and validates a configuration file, then applies
// environment overrides. A missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, "", false, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("palmscroll.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.PluginDir, err = expandPath(strings.TrimSpace(c.Paths.PluginDir)); err != nil {
		return fmt.Errorf("paths.plugin_dir: %w", err)
	}
	if c.Paths.StaticDir, err = expandPath(strings.TrimSpace(c.Paths.StaticDir)); err != nil {
		return fmt.Errorf("paths.static_dir: %w", err)
	}
	if c.Inference.ModelPath, err = expandPath(strings.TrimSpace(c.Inference.ModelPath)); err != nil {
		return fmt.Errorf("inference.model_path: %w", err)
	}
	if c.Inference.Script, err = expandPath(strings.TrimSpace(c.Inference.Script)); err != nil {
		return fmt.Errorf("inference.script: %w", err)
	}

	if c.Paths.StaticDir == "" {
		c.Paths.StaticDir = c.findDir("web")
	}
	if c.Paths.PluginDir == "" {
		c.Paths.PluginDir = c.findDir("plugins")
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	return nil
}

// findDir looks for name next to the working directory, two levels up, and
// under the data directory. It returns "" when none exists.
func (c *Config) findDir(name string) string {
	candidates := []string{name, filepath.Join("..", name), filepath.Join("..", "..", name)}
	if c.Paths.DataDir != "" {
		candidates = append(candidates, filepath.Join(c.Paths.DataDir, name))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.DataDir, err)
	}
	return nil
}

// DatabasePath returns the settings database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "palmscroll.db")
}

// LockPath returns the capture surface lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "capture.lock")
}

// LoadTimeout returns the recognizer load bound.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Inference.LoadTimeoutSeconds) * time.Second
}

// PluginTimeout returns the per-request plugin execution bound.
func (c *Config) PluginTimeout() time.Duration {
	return time.Duration(c.Desktop.PluginTimeoutMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the commented sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
