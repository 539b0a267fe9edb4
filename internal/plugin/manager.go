package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrPluginNotFound is returned when no plugin matches a lookup.
var ErrPluginNotFound = errors.New("plugin not found")

// Manager discovers plugins under a directory. Each plugin lives in its own
// subdirectory with a plugin.json manifest.
type Manager struct {
	pluginDir string
	logger    *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewManager creates a Manager for pluginDir.
func NewManager(pluginDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pluginDir: pluginDir,
		logger:    logger.With("component", "plugins"),
		plugins:   make(map[string]*Plugin),
	}
}

// Discover rescans the plugin directory. A missing directory yields no plugins.
func (m *Manager) Discover() error {
	found := make(map[string]*Plugin)
	defer func() {
		m.mu.Lock()
		m.plugins = found
		m.mu.Unlock()
	}()

	entries, err := os.ReadDir(m.pluginDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugin dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.pluginDir, entry.Name())
		p, err := loadPlugin(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			m.logger.Warn("skipping plugin", "dir", dir, "error", err)
			continue
		}
		found[p.Manifest.Name] = p
		m.logger.Debug("plugin discovered", "name", p.Manifest.Name, "actions", p.Manifest.Actions)
	}
	return nil
}

func loadPlugin(dir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, "plugin.json"))
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" || manifest.Executable == "" {
		return nil, errors.New("manifest needs name and executable")
	}

	return &Plugin{
		Manifest:   manifest,
		Path:       dir,
		Executable: filepath.Join(dir, manifest.Executable),
	}, nil
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p, nil
}

// Find returns the first plugin, by name, that supports action.
func (m *Manager) Find(action string) (*Plugin, error) {
	for _, p := range m.List() {
		if p.Manifest.Supports(action) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no plugin supports %q", ErrPluginNotFound, action)
}

// List returns all discovered plugins sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		plugins = append(plugins, p)
	}
	m.mu.RUnlock()

	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Manifest.Name < plugins[j].Manifest.Name })
	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
