package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/logger"
)

// Manager snapshots the database with pg_dump into timestamp-named files
// and keeps the newest retention snapshots.
type Manager struct {
	databaseURL string
	dir         string
	retention   int
	now         func() time.Time
}

type Snapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func NewManager(databaseURL, dir string, retention int) *Manager {
	if retention <= 0 {
		retention = 7
	}
	return &Manager{
		databaseURL: databaseURL,
		dir:         dir,
		retention:   retention,
		now:         time.Now,
	}
}

// Create writes a new snapshot and prunes old ones past the retention
// count. A prune failure does not fail the backup.
func (m *Manager) Create(ctx context.Context) (*Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	name := fmt.Sprintf("backup_%s.sql", m.now().Format("20060102_150405"))
	path := filepath.Join(m.dir, name)

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--format=plain", "--file", path, m.databaseURL)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if err := m.prune(); err != nil {
		logger.Errorf("Backup prune failed: %v", err)
	}

	logger.Infof("Backup %s created (%d bytes)", name, info.Size())
	return &Snapshot{Name: name, Path: path, SizeBytes: info.Size(), CreatedAt: info.ModTime()}, nil
}

// List returns existing snapshots, newest first.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name:      e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name > snapshots[j].Name
	})
	return snapshots, nil
}

// Restore replays a snapshot into the database with psql. Destructive;
// callers gate it behind an explicit operator action.
func (m *Manager) Restore(ctx context.Context, name string) error {
	if strings.Contains(name, string(os.PathSeparator)) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("snapshot %s: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, "psql", "--set", "ON_ERROR_STOP=1", "--file", path, m.databaseURL)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("psql restore: %w: %s", err, strings.TrimSpace(string(out)))
	}

	logger.Infof("Backup %s restored", name)
	return nil
}

func (m *Manager) prune() error {
	snapshots, err := m.List()
	if err != nil {
		return err
	}
	for _, s := range snapshots[min(m.retention, len(snapshots)):] {
		if err := os.Remove(s.Path); err != nil {
			return err
		}
		logger.Infof("Backup %s pruned", s.Name)
	}
	return nil
}
