package mocks

import (
	"sync"

	"github.com/teilomillet/hearth/config"
)

// MockConfigWatcher is a config.Watcher whose configuration tests change by
// hand with UpdateConfig. It is safe for concurrent use.
type MockConfigWatcher struct {
	mu          sync.RWMutex
	config      *config.Config
	subscribers []chan *config.Config
	closed      bool
}

var _ config.Watcher = (*MockConfigWatcher)(nil)

// NewMockConfigWatcher creates a watcher holding cfg.
func NewMockConfigWatcher(cfg *config.Config) *MockConfigWatcher {
	return &MockConfigWatcher{config: cfg}
}

// GetCurrentConfig implements config.Watcher
func (m *MockConfigWatcher) GetCurrentConfig() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Subscribe implements config.Watcher. Only updates made after the call
// are delivered.
func (m *MockConfigWatcher) Subscribe() <-chan *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *config.Config, 1)
	if m.closed {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Subscribers returns the number of open subscriptions.
func (m *MockConfigWatcher) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Close implements config.Watcher
func (m *MockConfigWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	return nil
}

// UpdateConfig publishes cfg to every subscriber, replacing any update they
// have not read yet.
func (m *MockConfigWatcher) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}
