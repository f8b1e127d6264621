package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/pkg/types"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Dir replays still images from a directory in name order.
type Dir struct {
	Path string
	Loop bool
	FPS  int
}

// NewDir creates a directory replay source.
func NewDir(path string, loop bool, fps int) *Dir {
	return &Dir{Path: path, Loop: loop, FPS: fps}
}

// Name implements Source.
func (d *Dir) Name() string { return "dir:" + d.Path }

// Open implements Source. It fails when the directory holds no images.
func (d *Dir) Open(_ context.Context) (Capture, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("read capture dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(d.Path, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("capture dir %s: no images", d.Path)
	}
	sort.Strings(files)

	logger.Info("Capture", "replaying %d images from %s (loop=%v)", len(files), d.Path, d.Loop)

	c := &dirCapture{files: files, loop: d.Loop}
	if d.FPS > 0 {
		c.interval = time.Second / time.Duration(d.FPS)
	}
	return c, nil
}

type dirCapture struct {
	files    []string
	loop     bool
	interval time.Duration

	mu       sync.Mutex
	idx      int
	seq      uint64
	last     time.Time
	released bool
}

func (c *dirCapture) Read(ctx context.Context) (types.Frame, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return types.Frame{}, ErrClosed
	}
	if c.idx >= len(c.files) {
		if !c.loop {
			c.mu.Unlock()
			return types.Frame{}, ErrExhausted
		}
		c.idx = 0
	}
	path := c.files[c.idx]
	c.idx++
	seq := c.seq
	c.seq++
	var wait time.Duration
	if c.interval > 0 && !c.last.IsZero() {
		wait = c.interval - time.Since(c.last)
	}
	c.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	img, err := imaging.Open(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	now := time.Now()
	c.mu.Lock()
	c.last = now
	c.mu.Unlock()

	return types.Frame{Image: img, Timestamp: now, FrameNum: seq}, nil
}

func (c *dirCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return nil
}
