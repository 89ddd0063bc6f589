package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/pathutil"

	"github.com/oklog/ulid/v2"
)

// Scratch is a private host directory for one download.
type Scratch struct {
	ID        string
	RootPath  string
	CreatedAt time.Time
}

// ScratchManager hands out scratch directories under a base dir and tracks
// them until teardown.
type ScratchManager struct {
	mu      sync.RWMutex
	scratch map[string]*Scratch
	baseDir string
}

func NewScratchManager(baseDir string) (*ScratchManager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "sdd-scratch")
	}

	if err := pathutil.EnsureDir(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch base directory: %w", err)
	}

	return &ScratchManager{
		scratch: make(map[string]*Scratch),
		baseDir: baseDir,
	}, nil
}

func (m *ScratchManager) BaseDir() string {
	return m.baseDir
}

func (m *ScratchManager) Setup() (*Scratch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ulid.Make().String()
	root := filepath.Join(m.baseDir, id)

	// Helpers write into the directory as their own user.
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	_ = os.Chmod(root, 0777)

	sc := &Scratch{
		ID:        id,
		RootPath:  root,
		CreatedAt: time.Now(),
	}
	m.scratch[id] = sc
	slog.Debug("Scratch directory created", "component", "sandbox", "scratch_id", id, "path", root)

	return sc, nil
}

func (m *ScratchManager) Teardown(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.scratch[id]
	if !ok {
		return nil
	}
	if err := os.RemoveAll(sc.RootPath); err != nil {
		slog.Error("Failed to remove scratch directory", "error", err, "path", sc.RootPath)
		return err
	}
	delete(m.scratch, id)
	slog.Debug("Scratch directory removed", "component", "sandbox", "scratch_id", id)
	return nil
}

// Active reports scratch directories not yet torn down.
func (m *ScratchManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scratch)
}

// Sweep removes directories under the base dir older than ttl that no live
// download owns, e.g. leftovers from a crashed process.
func (m *ScratchManager) Sweep(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	m.mu.RLock()
	live := make(map[string]bool, len(m.scratch))
	for id := range m.scratch {
		live[id] = true
	}
	m.mu.RUnlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if live[entry.Name()] || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			slog.Warn("Failed to sweep scratch entry", "path", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// safeJoin resolves name under root, refusing archive entries that would
// land outside it.
func safeJoin(root, name string) (string, error) {
	if containsPathTraversal(name) {
		return "", fmt.Errorf("path traversal detected in archive entry: %s", name)
	}
	return filepath.Join(root, filepath.FromSlash(name)), nil
}

func containsPathTraversal(name string) bool {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	return clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(name, "/") || strings.Contains(name, "\x00")
}
