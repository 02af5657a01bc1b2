package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/personas"
)

// debounceWindow absorbs the write-then-rename event bursts editors and
// atomic writers produce for a single logical change.
const debounceWindow = 250 * time.Millisecond

// RegistryWatcher reloads a persona registry file when it changes on disk
// and hands the parsed result to a callback.
type RegistryWatcher struct {
	path    string
	onSwap  func(*personas.Registry)
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stop    chan struct{}
}

// WatchRegistry watches path and invokes onSwap with each successfully
// parsed registry. Parse failures keep the previous registry in effect.
func WatchRegistry(path string, onSwap func(*personas.Registry), logger *zap.Logger) (*RegistryWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: rename-based atomic writes replace
	// the inode and would silently detach a file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	rw := &RegistryWatcher{
		path:    path,
		onSwap:  onSwap,
		watcher: watcher,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	go rw.loop()
	return rw, nil
}

// Close stops the watcher.
func (rw *RegistryWatcher) Close() error {
	close(rw.stop)
	return rw.watcher.Close()
}

func (rw *RegistryWatcher) loop() {
	var timer *time.Timer
	for {
		select {
		case evt, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(rw.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, rw.reload)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Warn("registry watch error", zap.Error(err))
		case <-rw.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (rw *RegistryWatcher) reload() {
	reg, err := personas.LoadRegistry(rw.path)
	if err != nil {
		rw.logger.Warn("persona registry reload failed, keeping previous set",
			zap.String("path", rw.path),
			zap.Error(err))
		return
	}
	rw.logger.Info("persona registry reloaded",
		zap.String("path", rw.path),
		zap.Strings("personas", reg.Names()))
	rw.onSwap(reg)
}
