package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	emptyFile     = ".empty-symbols"
	completedFile = ".completed"
)

// progressTracker remembers, per state directory, which symbols returned no
// bars and which fetch range last completed, so an interrupted fetch can
// resume and a finished one is not repeated.
type progressTracker struct {
	mu    sync.Mutex
	empty map[string]struct{}
	file  *os.File
	w     *bufio.Writer
	dir   string
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	pt := &progressTracker{empty: make(map[string]struct{}), dir: dir}
	if data, err := os.ReadFile(filepath.Join(dir, emptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.empty[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dir, emptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", emptyFile, err)
	}
	p.file = f
	p.w = bufio.NewWriter(f)
	return nil
}

// IsEmpty reports whether symbol already came back without bars.
func (p *progressTracker) IsEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[symbol]
	return ok
}

// MarkEmpty records symbols that returned no bars.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.empty[sym]; ok {
			continue
		}
		p.empty[sym] = struct{}{}
		if _, err := p.w.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", emptyFile, err)
		}
	}
	return p.w.Flush()
}

// MarkCompleted stores key as the last completed fetch.
func (p *progressTracker) MarkCompleted(key string) error {
	return os.WriteFile(filepath.Join(p.dir, completedFile), []byte(key), 0o644)
}

// LastCompleted returns the key of the last completed fetch, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, completedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsCompleted reports whether key was the last completed fetch.
func (p *progressTracker) IsCompleted(key string) bool {
	return p.LastCompleted() == key
}

// Reset forgets the empty symbols, for a fetch over a different range.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.empty = make(map[string]struct{})
	if err := os.Remove(filepath.Join(p.dir, emptyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", emptyFile, err)
	}
	return p.open()
}

// Close flushes and closes the empty-symbols file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != nil {
		p.w.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
