package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after a reloaded configuration passes validation.
type ChangeHandler func(old, updated *Config) error

// Manager holds the current configuration and hot-reloads it from disk.
type Manager struct {
	path           string
	policyDir      string
	current        *Config
	validate       bool
	handlers       []ChangeHandler
	policyHandlers []func() error
	watcher        *fsnotify.Watcher
	started        bool
	stopCh         chan struct{}
	logger         *zap.Logger
	mu             sync.RWMutex
	watcherMu      sync.Mutex
	debounce       time.Duration
}

// NewManager loads path once. When validate is set, reloads that fail Validate are rejected.
func NewManager(path string, validate bool, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &Manager{
		path:     path,
		current:  cfg,
		validate: validate,
		stopCh:   make(chan struct{}),
		logger:   logger,
		debounce: 50 * time.Millisecond,
	}, nil
}

// Current returns the active configuration. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RegisterHandler registers a change handler for configuration reloads
func (m *Manager) RegisterHandler(handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// RegisterPolicyHandler registers a handler for .rego changes under dir.
func (m *Manager) RegisterPolicyHandler(dir string, handler func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyDir = dir
	m.policyHandlers = append(m.policyHandlers, handler)
	m.logger.Info("Policy reload handler registered", zap.String("dir", dir))
}

// Start begins watching the config file directory (and the policy directory, if any).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	policyDir := m.policyDir
	m.mu.Unlock()

	if m.path == "" && policyDir == "" {
		m.logger.Info("Configuration manager has nothing to watch")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if m.path != "" {
		if err := watcher.Add(filepath.Dir(m.path)); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
	}
	if policyDir != "" {
		if err := watcher.Add(policyDir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch policy directory: %w", err)
		}
	}

	m.mu.Lock()
	m.watcher = watcher
	m.started = true
	m.mu.Unlock()

	go m.watchLoop(ctx)

	m.logger.Info("Configuration manager started",
		zap.String("config_path", m.path),
		zap.String("policy_dir", policyDir),
	)
	return nil
}

// Stop stops watching for configuration changes
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
	m.logger.Info("Configuration manager stopped")
	return nil
}

// Reload re-reads the file, validates it and notifies handlers.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	if m.validate {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("reloaded config rejected: %w", err)
		}
	}

	m.mu.Lock()
	old := m.current
	m.current = cfg
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h(old, cfg); err != nil {
			m.logger.Error("Configuration handler failed", zap.Error(err))
		}
	}
	m.logger.Info("Configuration reloaded", zap.String("config_path", m.path))
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = m.Stop()
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	isConfig := m.isConfigFile(event.Name)
	isPolicy := m.isPolicyFile(event.Name)
	if !isConfig && !isPolicy {
		return
	}
	if event.Op&fsnotify.Chmod == fsnotify.Chmod && event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	m.logger.Debug("File system event",
		zap.String("file", filepath.Base(event.Name)),
		zap.String("op", event.Op.String()),
	)

	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if isConfig {
		if removed {
			// editors replace files via rename; keep the last good config
			m.logger.Warn("Config file removed, keeping current configuration", zap.String("file", event.Name))
		} else {
			time.Sleep(m.debounce)
			if err := m.Reload(); err != nil {
				m.logger.Error("Failed to reload config", zap.Error(err))
			}
		}
	}
	if isPolicy {
		m.handlePolicyReload(event.Name)
	}
}

func (m *Manager) handlePolicyReload(name string) {
	m.mu.RLock()
	handlers := append([]func() error(nil), m.policyHandlers...)
	m.mu.RUnlock()
	for _, h := range handlers {
		if err := h(); err != nil {
			m.logger.Error("Policy reload failed", zap.String("file", name), zap.Error(err))
		}
	}
}

func (m *Manager) isConfigFile(name string) bool {
	return m.path != "" && filepath.Clean(name) == filepath.Clean(m.path)
}

func (m *Manager) isPolicyFile(name string) bool {
	m.mu.RLock()
	dir := m.policyDir
	m.mu.RUnlock()
	return dir != "" && strings.HasSuffix(name, ".rego") && filepath.Dir(filepath.Clean(name)) == filepath.Clean(dir)
}
