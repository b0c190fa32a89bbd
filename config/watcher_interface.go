package config

// Watcher is implemented by anything that serves the current configuration
// and announces reloads.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
