package resource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// osSubscription pumps fsnotify events for one watched root.
type osSubscription struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func (s *osSubscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	return s.watcher.Close()
}

// Watch subscribes to the folder and all of its subdirectories. fsnotify has
// no recursive mode, so directories are added as they are discovered and as
// they are created.
func (p *osProvider) Watch(folder string, onEvent func(WatchEvent), onError func(error)) (io.Closer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher for %s: %w", folder, err)
	}

	if err := watchDirectory(folder, watcher); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", folder, err)
	}

	sub := &osSubscription{watcher: watcher, done: make(chan struct{})}
	go sub.pump(onEvent, onError)
	return sub, nil
}

func (s *osSubscription) pump(onEvent func(WatchEvent), onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			path := filepath.Clean(event.Name)

			// A created directory must be added to the watcher before its
			// own children can be observed.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					_ = watchDirectory(path, s.watcher)
				}
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				onEvent(WatchEvent{Type: Add, Path: path})
			case event.Op&fsnotify.Write == fsnotify.Write:
				onEvent(WatchEvent{Type: Modify, Path: path})
			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				onEvent(WatchEvent{Type: Remove, Path: path})
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			onError(err)
		}
	}
}

// watchDirectory recursively adds directories to the watcher. Dot folders are
// skipped; the engine ignores their contents anyway.
func watchDirectory(path string, watcher *fsnotify.Watcher) error {
	if err := watcher.Add(path); err != nil {
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		subPath := filepath.Join(path, name)
		if err := watchDirectory(subPath, watcher); err != nil {
			// Ignore errors for individual subdirectories
			continue
		}
	}

	return nil
}
