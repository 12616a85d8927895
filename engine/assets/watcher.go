// Package assets watches files the engine reads at startup and reloads them
// when they change on disk.
package assets

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/core"
)

// ConfigWatcher reloads the configuration file whenever it is written or
// replaced. The log level is applied directly; everything else is handed to
// the reload callback, which runs on the watcher goroutine.
type ConfigWatcher struct {
	path     string
	onReload func(*core.Config)

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewConfigWatcher(path string, onReload func(*core.Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors usually replace the file instead of writing it, so the
	// directory is watched and events are filtered by name.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}

	cw := &ConfigWatcher{
		path:     abs,
		onReload: onReload,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := cw.reload(); err != nil {
				core.LogError("config reload failed: %v", err)
			}

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-cw.done:
			return
		}
	}
}

// reload reads the file and applies it. An invalid file leaves the running
// configuration untouched.
func (cw *ConfigWatcher) reload() error {
	cfg, err := core.LoadConfig(cw.path)
	if err != nil {
		return err
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		return errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	core.LogInfo("configuration %s reloaded", cw.path)
	if cw.onReload != nil {
		cw.onReload(cfg)
	}
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	if cw.isClosed {
		return nil
	}
	cw.isClosed = true
	close(cw.done)
	cw.wg.Wait()
	return cw.fsnotify.Close()
}
