// Package catalog maintains the library of analyzable videos. Sessions refer
// to videos by bare name; the catalog owns the mapping onto real paths so
// clients can never reach outside the library directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownVideo = errors.New("unknown video")
	ErrInvalidName  = errors.New("invalid video name")
)

// videoExtensions lists the container formats the sampler's decoder accepts.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// Video is one catalog entry.
type Video struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type Catalog struct {
	dir string
	log zerolog.Logger

	mu     sync.RWMutex
	videos map[string]Video
}

// New scans dir and returns a catalog over it. The directory must exist.
func New(dir string, log zerolog.Logger) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve video dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("video dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("video dir %s is not a directory", abs)
	}

	c := &Catalog{dir: abs, log: log, videos: map[string]Video{}}
	if err := c.rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the absolute library directory.
func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan video dir: %w", err)
	}

	videos := make(map[string]Video, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos[entry.Name()] = Video{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
	}

	c.mu.Lock()
	c.videos = videos
	c.mu.Unlock()
	c.log.Debug().Int("count", len(videos)).Msg("video catalog rescanned")
	return nil
}

// List returns the catalog sorted by name.
func (c *Catalog) List() []Video {
	c.mu.RLock()
	out := make([]Video, 0, len(c.videos))
	for _, v := range c.videos {
		out = append(out, v)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps a bare video name onto its absolute path. Names carrying path
// separators or traversal are rejected outright. A miss triggers one rescan
// so a freshly dropped file is usable without waiting for the watcher.
func (c *Catalog) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if c.has(name) {
		return filepath.Join(c.dir, name), nil
	}
	if err := c.rescan(); err != nil {
		return "", err
	}
	if c.has(name) {
		return filepath.Join(c.dir, name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVideo, name)
}

func (c *Catalog) has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.videos[name]
	return ok
}

// Watch keeps the catalog in sync with the library directory until ctx ends.
// Intended to run as a goroutine; the initial scan already happened in New,
// so losing a watcher event only delays freshness until the next Resolve.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	c.log.Info().Str("dir", c.dir).Msg("watching video library")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !videoExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if err := c.rescan(); err != nil {
				c.log.Warn().Err(err).Msg("catalog rescan failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("catalog watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
