package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	lineBufferInitial = 4 * 1024
	lineBufferMax     = 64 * 1024 // longer lines are skipped
)

// Frame is one line of a level file: the latest channel values of a port.
//
//	{"port":1,"channels":[255,0,12,...]}
type Frame struct {
	Port     int   `json:"port"`
	Channels []int `json:"channels"`
}

// FileConfig holds configuration for a FileSource.
type FileConfig struct {
	Path    string // JSONL file with one Frame per line
	Verbose bool
}

// FileSource serves channel levels tailed from a JSONL file, for example one
// written by a DMX sniffer. Unlike Simulation it ignores the time argument and
// always returns the latest frame seen for the port; unknown channels read 0.
type FileSource struct {
	path    string
	verbose bool

	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	levels map[int][]int
	offset int64
	frames int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileSource creates a FileSource. The file must exist.
func NewFileSource(cfg FileConfig) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("feed file path is required")
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot access feed file %s: %w", cfg.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", cfg.Path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileSource{
		path:    cfg.Path,
		verbose: cfg.Verbose,
		watcher: watcher,
		levels:  make(map[int][]int),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start loads the existing file contents and keeps following appends in the
// background until Stop.
func (fs *FileSource) Start() error {
	// Watch the directory: editors and log rotation replace the file.
	if err := fs.watcher.Add(filepath.Dir(fs.path)); err != nil {
		return fmt.Errorf("watch %s: %w", fs.path, err)
	}

	if _, err := fs.load(); err != nil {
		return fmt.Errorf("initial feed load failed: %w", err)
	}

	fs.wg.Add(1)
	go fs.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the background goroutine.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Sample implements Source.
func (fs *FileSource) Sample(channelIndex, portIndex int, _ float64) int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	chans := fs.levels[portIndex]
	if channelIndex < 0 || channelIndex >= len(chans) {
		return 0
	}
	return clamp(float64(chans[channelIndex]))
}

// Frames returns how many frames have been applied.
func (fs *FileSource) Frames() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.frames
}

// load reads from the last offset to EOF and applies every complete frame.
func (fs *FileSource) load() (int, error) {
	file, err := os.Open(fs.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	fs.mu.RLock()
	offset := fs.offset
	fs.mu.RUnlock()

	if info, err := file.Stat(); err == nil && info.Size() < offset {
		// Truncated or replaced; start from the top.
		offset = 0
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}

	reader := bufio.NewReaderSize(file, lineBufferInitial)

	count := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A trailing partial line is picked up on the next write.
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", fs.path, err)
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > lineBufferMax {
			continue
		}

		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			if fs.verbose {
				log.Printf("⚠️  feed: skipping bad line in %s: %v\n", filepath.Base(fs.path), err)
			}
			continue
		}
		fs.apply(f)
		count++
	}

	fs.mu.Lock()
	fs.offset = offset
	fs.mu.Unlock()

	return count, nil
}

func (fs *FileSource) apply(f Frame) {
	chans := make([]int, len(f.Channels))
	copy(chans, f.Channels)

	fs.mu.Lock()
	fs.levels[f.Port] = chans
	fs.frames++
	fs.mu.Unlock()
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	target := filepath.Clean(fs.path)
	for {
		select {
		case <-fs.ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				fs.mu.Lock()
				fs.offset = 0
				fs.mu.Unlock()
			}

			count, err := fs.load()
			if err != nil {
				log.Printf("⚠️  feed: error reading %s: %v\n", fs.path, err)
			} else if fs.verbose && count > 0 {
				log.Printf("🎚️  feed: applied %d frames from %s\n", count, filepath.Base(fs.path))
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  feed: watcher error: %v\n", err)
		}
	}
}
