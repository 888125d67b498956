package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
)

// Watcher reloads a config file whenever it is written and hands the parsed result to a
// callback. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	onChange func(*Config)

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	// Watch the directory: editors replace files atomically, which drops a file watch.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("config %s not reloaded: %s", w.path, err)
		return
	}
	core.LogInfo("config %s reloaded", w.path)
	w.onChange(cfg)
}

func (w *Watcher) Close() error {
	err := errors.New("config watcher already closed")
	w.once.Do(func() {
		close(w.done)
		err = w.fsnotify.Close()
		w.wg.Wait()
	})
	return err
}
