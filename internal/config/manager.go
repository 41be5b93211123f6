package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes a change to a watched configuration file.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // create, modify, delete
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is invoked when a watched file changes.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a directory of YAML/JSON files (agent profiles,
// workflow templates) and hot-reloads them on change.
type Manager struct {
	dir      string
	configs  map[string]map[string]interface{}
	handlers map[string][]ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager watching dir. The directory is created if
// it does not exist.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Manager{
		dir:      dir,
		configs:  make(map[string]map[string]interface{}),
		handlers: make(map[string][]ChangeHandler),
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start loads all files in the directory and begins watching for changes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	// Initial load happens outside the lock; loadFile takes it per file.
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	m.mu.Unlock()

	go m.watchLoop()

	m.logger.Info("Configuration manager started",
		zap.String("dir", m.dir),
		zap.Int("loaded_files", loaded),
	)
	return nil
}

// Stop stops watching for changes.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	return nil
}

// RegisterHandler registers a change handler for a specific file name.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// Get returns the current parsed contents of a watched file.
func (m *Manager) Get(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, true
}

// Reload manually reloads a specific file.
func (m *Manager) Reload(filename string) error {
	return m.loadFile(filepath.Join(m.dir, filename), "manual_reload")
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	if !isConfigFile(event.Name) {
		return
	}
	filename := filepath.Base(event.Name)

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		m.handleRemoval(filename)
		return
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		action = event.Op.String()
	}

	// Small delay to coalesce rapid successive writes.
	time.Sleep(50 * time.Millisecond)

	if err := m.loadFile(event.Name, action); err != nil {
		m.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) loadAll() error {
	return filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return m.loadFile(path, "initial_load")
	})
}

func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	filename := filepath.Base(path)
	cfg := make(map[string]interface{})
	switch filepath.Ext(filename) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", filename, err)
		}
	}

	cfgCopy := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		cfgCopy[k] = v
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.Unlock()

	m.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    action,
		Config:    cfgCopy,
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration loaded",
		zap.String("file", filename),
		zap.String("action", action),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

func (m *Manager) handleRemoval(filename string) {
	m.mu.Lock()
	cfg := m.configs[filename]
	delete(m.configs, filename)
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.Unlock()

	var cfgCopy map[string]interface{}
	if cfg != nil {
		cfgCopy = make(map[string]interface{}, len(cfg))
		for k, v := range cfg {
			cfgCopy[k] = v
		}
	}

	m.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    "delete",
		Config:    cfgCopy,
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration file removed", zap.String("file", filename))
}

// notify runs handlers asynchronously so a slow handler cannot stall the
// watch loop or deadlock against callers holding locks.
func (m *Manager) notify(handlers []ChangeHandler, event ChangeEvent) {
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				m.logger.Error("Configuration handler error",
					zap.String("file", event.File),
					zap.String("action", event.Action),
					zap.Error(err),
				)
			}
		}()
	}
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
