package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the live gateway configuration. Reads go through an
// atomic pointer swap so the query path never takes a lock; reloads
// replace the whole pointer and fan out to registered listeners.
//
// Not every section is hot-reloadable. Engines are bound to invokers at
// startup, the server socket is already listening, and the cache
// backend is constructed once, so a reload that touches those sections
// is applied to the snapshot but flagged as requiring a restart rather
// than silently half-applied.
type Manager struct {
	config atomic.Pointer[Config]
	path   string
	logger *slog.Logger

	watcher  *fsnotify.Watcher
	onChange []func(*Config)

	mu          sync.Mutex
	boot        startupSections
	loadedAt    time.Time
	reloadCount int64
	restart     bool
}

// Status reports reload bookkeeping for the admin surface and tests.
type Status struct {
	Path            string    `json:"path"`
	LoadedAt        time.Time `json:"loaded_at"`
	ReloadCount     int64     `json:"reload_count"`
	RestartRequired bool      `json:"restart_required"`
}

// startupSections captures the parts of the config that only take
// effect at process start.
type startupSections struct {
	engines      string
	port         int
	cacheBackend string
}

func captureStartup(cfg *Config) startupSections {
	names := make([]string, len(cfg.Engines))
	for i, e := range cfg.Engines {
		names[i] = e.Name + "@" + e.BaseURL
	}
	return startupSections{
		engines:      strings.Join(names, ","),
		port:         cfg.Server.Port,
		cacheBackend: cfg.Cache.Backend,
	}
}

// NewManager loads the configuration and prepares it for hot reload.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:        path,
		logger:      logger,
		boot:        captureStartup(cfg),
		loadedAt:    time.Now(),
		reloadCount: 1,
	}
	m.config.Store(cfg)

	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns reload bookkeeping for the current process.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Path:            m.path,
		LoadedAt:        m.loadedAt,
		ReloadCount:     m.reloadCount,
		RestartRequired: m.restart,
	}
}

// OnChange registers a callback invoked with each successfully reloaded
// configuration. Callbacks must be registered before Watch is started.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the file, swaps the snapshot and notifies listeners.
// An invalid file leaves the current configuration in place. Changes to
// engines, the server port or the cache backend are flagged via
// Status().RestartRequired because they cannot be applied live.
func (m *Manager) Reload() error {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	m.config.Store(newCfg)

	m.mu.Lock()
	m.reloadCount++
	m.loadedAt = time.Now()
	count := m.reloadCount
	if live := captureStartup(newCfg); live != m.boot {
		m.restart = true
		m.logger.Warn("engines, server port or cache backend changed on disk; restart to apply those sections")
	}
	m.mu.Unlock()

	m.logger.Info("configuration reloaded", "reloads", count)

	for _, fn := range m.onChange {
		fn(newCfg)
	}
	return nil
}

// Watch starts watching the configuration file for changes. Rapid
// successive writes (editors, config management agents) are debounced
// into one reload.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("keeping current configuration", "error", err)
					}
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
