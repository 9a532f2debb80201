package config

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/sbidoul/runboat/pkg/matcher"
)

// WatchRepoRules watches path for writes and reloads m.Reload with the
// updated rule set on every change, until ctx is canceled. A no-op if path
// is empty (no repo-rules file mounted — rules came from RUNBOAT_REPOS_YAML
// instead, which is immutable for the life of the process).
func WatchRepoRules(ctx context.Context, path string, m *matcher.Matcher, log logr.Logger) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := reloadFromFile(path, m); err != nil {
					log.Error(err, "repo rules reload failed, keeping previous rules", "path", path)
					continue
				}
				log.Info("repo rules hot-reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "repo rules watcher error")
			}
		}
	}()
	return nil
}

func reloadFromFile(path string, m *matcher.Matcher) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f reposFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}
	return m.Reload(f.Rules)
}
