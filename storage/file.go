package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	fileKeyPrefix  = "k_"
	fileTempPrefix = ".tmp-"
)

// File is a [Port] whose origin is a directory. Each key is one file written
// atomically (temp file + rename); an fsnotify watcher turns directory changes into
// events. Unlike [MemoryTab] and [Redis], a File port may observe its own writes.
type File struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
	done    chan struct{}
}

// FileOption customizes a [File] port.
type FileOption func(*File)

// WithFileLogger sets the logger used for watcher errors.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFile opens (creating if needed) dir as a storage origin and starts watching it.
func NewFile(dir string, opts ...FileOption) (*File, error) {
	if dir == "" {
		return nil, errors.New("storage: file dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("storage: watch dir: %w", err)
	}

	f := &File{
		dir:     dir,
		watcher: watcher,
		logger:  slog.Default(),
		subs:    make(map[uint64]*subscriber),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.processEvents()
	return f, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, fileKeyPrefix+url.QueryEscape(key))
}

func keyFromName(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, fileKeyPrefix) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimPrefix(base, fileKeyPrefix))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get implements [Port].
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	if f.isClosed() {
		return "", false, ErrClosed
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read %s: %w", ErrUnavailable, key, err)
	}
	return string(data), true, nil
}

// Set implements [Port].
func (f *File) Set(_ context.Context, key, value string) error {
	if f.isClosed() {
		return ErrClosed
	}
	tmp, err := os.CreateTemp(f.dir, fileTempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Remove implements [Port].
func (f *File) Remove(_ context.Context, key string) error {
	if f.isClosed() {
		return ErrClosed
	}
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Subscribe implements [Port].
func (f *File) Subscribe(fn func(Event), keys ...string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil || f.closed {
		return func() {}
	}
	f.nextSub++
	sub := newSubscriber(f.nextSub, fn, keys)
	f.subs[sub.id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, sub.id)
			f.mu.Unlock()
		})
	}
}

// Close stops the watcher.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.subs = make(map[uint64]*subscriber)
	f.mu.Unlock()

	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *File) processEvents() {
	defer close(f.done)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handle(event)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("sessionkit: storage watcher error", "dir", f.dir, "error", err)
		}
	}
}

func (f *File) handle(event fsnotify.Event) {
	key, ok := keyFromName(event.Name)
	if !ok {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		f.deliver(Event{Key: key, Removed: true, Origin: "file"})
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if errors.Is(err, os.ErrNotExist) {
			f.deliver(Event{Key: key, Removed: true, Origin: "file"})
			return
		}
		if err != nil {
			f.logger.Debug("sessionkit: storage notification read failed", "key", key, "error", err)
			return
		}
		f.deliver(Event{Key: key, Value: string(data), Origin: "file"})
	}
}

func (f *File) deliver(ev Event) {
	f.mu.Lock()
	targets := make([]func(Event), 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.wants(ev.Key) {
			targets = append(targets, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}
