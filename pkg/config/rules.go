package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/resolver"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
)

// LoadRules reads a resolution rules file. A missing path yields empty
// rules rather than an error so a manager can run without any.
func LoadRules(path string) (resolver.Rules, error) {
	var rules resolver.Rules
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return rules, nil
}

// WatchedRules is a resolver.RuleSource backed by a YAML file that is
// reloaded whenever the file changes on disk. A reload that fails to
// parse keeps the previous rules in effect.
type WatchedRules struct {
	path    string
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	rules resolver.Rules
}

// NewWatchedRules loads the rules file and starts watching it for
// changes. Close must be called to release the watcher.
func NewWatchedRules(path string, logger *telemetry.Logger) (*WatchedRules, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch rules file %s: %w", path, err)
	}

	w := &WatchedRules{
		path:    path,
		logger:  logger.NewComponentLogger("rules"),
		watcher: watcher,
		rules:   rules,
	}
	go w.run()
	return w, nil
}

// Rules implements resolver.RuleSource.
func (w *WatchedRules) Rules() resolver.Rules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules
}

// Close stops watching the rules file.
func (w *WatchedRules) Close() error {
	return w.watcher.Close()
}

func (w *WatchedRules) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				// Editors replace files; re-arm the watch after a
				// remove or rename and reload on the next event.
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					_ = w.watcher.Add(w.path)
				}
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("rules watcher error")
		}
	}
}

func (w *WatchedRules) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("rules file changed but could not be reloaded, keeping previous rules")
		return
	}

	w.mu.Lock()
	w.rules = rules
	w.mu.Unlock()

	w.logger.WithField("mappings", len(rules.Mappings)).
		WithField("version_constraints", len(rules.VersionConstraints)).
		Info("resolution rules reloaded")
}
