package config

import (
	"strings"
	"sync"

	"ftbridge/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener receives the freshly reloaded configuration.
type ChangeListener func(*Config)

// Watcher re-reads the config file when it changes on disk and notifies
// listeners. Only runtime-adjustable settings (log level, staleness
// threshold) should be picked up by listeners; structural settings such
// as the store path require a restart.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.Mutex
	listeners []ChangeListener
}

// NewWatcher starts watching the given config file.
func NewWatcher(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	w := &Watcher{path: path, v: v}
	v.OnConfigChange(func(evt fsnotify.Event) {
		logger.Debugf("config file changed (%s), reloading", evt.Name)
		cfg, err := Load(w.path)
		if err != nil {
			logger.Errorf("config reload failed, keeping previous config: %v", err)
			return
		}
		w.notify(cfg)
	})
	v.WatchConfig()
	return w, nil
}

// OnChange registers a listener invoked after every successful reload.
func (w *Watcher) OnChange(fn ChangeListener) {
	if w == nil || fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) notify(cfg *Config) {
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
