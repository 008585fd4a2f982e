package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"shadow_exchange/internal/domain"
)

// MarketSnapshot is the last coin list fetched from the market API.
// Loaded at start-up so the UI has data before the first refresh lands.
type MarketSnapshot struct {
	Seq    uint64        `json:"seq"` // refresh counter
	TsUnix int64         `json:"ts"`  // capture time (Unix seconds)
	Coins  []domain.Coin `json:"coins"`
}

// Age is the time since the snapshot was captured.
func (s *MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.TsUnix, 0))
}

// SnapshotManager handles saving and loading market snapshots.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager stores snapshot files under dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Save writes a snapshot to disk.
func (sm *SnapshotManager) Save(snap *MarketSnapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("market_%d_%d.json", snap.Seq, snap.TsUnix)
	path := filepath.Join(sm.dir, filename)

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write then rename so a crash never leaves a truncated latest file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	slog.Debug("Market snapshot saved",
		slog.Uint64("seq", snap.Seq),
		slog.Int("coins", len(snap.Coins)),
		slog.String("path", path))
	return nil
}

type snapFile struct {
	path string
	seq  uint64
	ts   int64
}

func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		return nil, err
	}

	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "market_%d_%d.json", &seq, &ts); err != nil {
			continue
		}
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq, ts: ts})
	}

	// Newest first; seq restarts with the process, so time decides first
	sort.Slice(files, func(i, j int) bool {
		if files[i].ts != files[j].ts {
			return files[i].ts > files[j].ts
		}
		return files[i].seq > files[j].seq
	})
	return files, nil
}

// LoadLatest loads the most recent snapshot. Returns nil if none exists.
func (sm *SnapshotManager) LoadLatest() (*MarketSnapshot, error) {
	files, err := sm.list()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Market snapshot loaded",
		slog.Uint64("seq", snap.Seq),
		slog.Int("coins", len(snap.Coins)),
		slog.String("path", files[0].path))
	return &snap, nil
}

// NewMarketSnapshot copies coins into a snapshot stamped now.
func NewMarketSnapshot(seq uint64, coins []domain.Coin) *MarketSnapshot {
	return &MarketSnapshot{
		Seq:    seq,
		TsUnix: time.Now().Unix(),
		Coins:  append([]domain.Coin(nil), coins...),
	}
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	if len(files) <= keepCount {
		return nil
	}

	for _, f := range files[keepCount:] {
		if err := os.Remove(f.path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", f.path))
		}
	}
	return nil
}
