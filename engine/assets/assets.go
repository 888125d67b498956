// Package assets indexes the images under a directory and reports when they change on disk.
package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/anima2d/engine/core"
)

type AssetInfo struct {
	Path    string
	ModTime time.Time
}

// Library keeps an index of the image files below a root directory. Created and written files
// are reported on Changed; deleted ones drop out of the index.
type Library struct {
	root   string
	assets map[string]AssetInfo
	mutex  sync.RWMutex

	fsnotify *fsnotify.Watcher
	changed  chan string
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewLibrary(root string) (*Library, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%s is not a directory", root)
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	l := &Library{
		root:     root,
		assets:   make(map[string]AssetInfo),
		fsnotify: fsWatch,
		changed:  make(chan string, 16),
		done:     make(chan struct{}),
	}
	if err := l.watchRecursive(root); err != nil {
		fsWatch.Close()
		return nil, err
	}
	l.wg.Add(1)
	go l.start()
	return l, nil
}

// Images lists the indexed image paths in lexical order.
func (l *Library) Images() []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]string, 0, len(l.assets))
	for p := range l.assets {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (l *Library) Info(path string) (AssetInfo, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	a, ok := l.assets[path]
	return a, ok
}

// Changed delivers the path of every image created or rewritten after the library was opened.
// Events are dropped when nobody drains the channel.
func (l *Library) Changed() <-chan string {
	return l.changed
}

func (l *Library) Close() error {
	l.mutex.Lock()
	if l.isClosed {
		l.mutex.Unlock()
		return nil
	}
	l.isClosed = true
	l.mutex.Unlock()

	close(l.done)
	err := l.fsnotify.Close()
	l.wg.Wait()
	return err
}

func (l *Library) start() {
	defer l.wg.Done()
	for {
		select {
		case e, ok := <-l.fsnotify.Events:
			if !ok {
				return
			}
			l.handle(e)
		case err, ok := <-l.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("assets: %s", err)
		case <-l.done:
			return
		}
	}
}

func (l *Library) handle(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
			if err := l.watchRecursive(e.Name); err != nil {
				core.LogWarn("assets: cannot watch %s: %s", e.Name, err)
			}
			return
		}
	}
	// A removed directory no longer stats, so every entry below the name is dropped.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		l.remove(e.Name)
		return
	}
	if !IsImage(e.Name) {
		return
	}
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		if l.index(e.Name) {
			select {
			case l.changed <- e.Name:
			default:
				core.LogWarn("assets: change of %s dropped", e.Name)
			}
		}
	}
}

// watchRecursive adds dir and every directory below it, indexing the images it finds.
func (l *Library) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.fsnotify.Add(path)
		}
		if IsImage(path) {
			l.index(path)
		}
		return nil
	})
}

func (l *Library) index(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.assets[path] = AssetInfo{Path: path, ModTime: fi.ModTime()}
	return true
}

// remove drops path and, when path was a directory, every image below it.
func (l *Library) remove(path string) {
	prefix := path + string(filepath.Separator)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for p := range l.assets {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(l.assets, p)
		}
	}
}
