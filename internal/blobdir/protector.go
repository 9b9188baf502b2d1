package blobdir

import (
	"os"
	"sync"
	"time"
)

// DefaultProtectionWindow is how long a freshly created part file is shielded
// from the abandoned-file sweep while its metadata row is still in flight.
const DefaultProtectionWindow = 10 * time.Minute

// TempFileProtector shields newly created, not-yet-linked part files from
// the garbage collector. Entries live only in memory: after a crash the
// window is lost and an interrupted write can leave a small orphan for the
// collector to reap. That is an accepted risk, not a bug.
type TempFileProtector struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewTempFileProtector builds a protector with the given window. A nil clock
// defaults to time.Now.
func NewTempFileProtector(window time.Duration, now func() time.Time) *TempFileProtector {
	if window <= 0 {
		window = DefaultProtectionWindow
	}
	if now == nil {
		now = time.Now
	}
	return &TempFileProtector{
		window:  window,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Protect runs the file-creation operation and registers the resulting path.
func (p *TempFileProtector) Protect(create func() (string, error)) (string, error) {
	path, err := create()
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.entries[path] = p.now()
	p.mu.Unlock()
	return path, nil
}

// IsProtected reports whether path is still within its protection window,
// measured from the later of its registration time and the file's mtime.
// Expired entries are evicted on first sight.
func (p *TempFileProtector) IsProtected(path string) bool {
	p.mu.Lock()
	registered, ok := p.entries[path]
	p.mu.Unlock()

	newest := registered
	if info, err := os.Stat(path); err == nil {
		if mtime := info.ModTime(); mtime.After(newest) {
			newest = mtime
		}
	} else if !ok {
		return false
	}

	if p.now().Sub(newest) < p.window {
		return true
	}

	if ok {
		p.mu.Lock()
		delete(p.entries, path)
		p.mu.Unlock()
	}
	return false
}
