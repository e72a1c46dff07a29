package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// checkpointVersion is bumped when the file layout changes; older files are
// discarded and the next scan runs in full.
const checkpointVersion = 1

// Checkpoint is the scan record kept next to the database. Files maps each
// indexed location to its modification time in unix seconds.
type Checkpoint struct {
	Version     int              `json:"version"`
	LastScanAt  time.Time        `json:"last_scan_at"`
	Roots       []string         `json:"roots"`
	LastSummary *Summary         `json:"last_summary,omitempty"`
	Files       map[string]int64 `json:"files"`
}

// NewCheckpoint returns the checkpoint of a library never scanned.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{Version: checkpointVersion, Files: make(map[string]int64)}
}

// Empty reports whether the checkpoint records no completed scan.
func (c *Checkpoint) Empty() bool {
	return c.LastScanAt.IsZero() && len(c.Files) == 0
}

// LoadCheckpoint reads the checkpoint at path. A missing, corrupt or
// outdated file yields an empty checkpoint; the next scan is then slower
// but correct. Only a failure to read an existing file is an error.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewCheckpoint(), nil
	}
	if err != nil {
		return NewCheckpoint(), fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		log.WithField("path", path).WithError(err).Error("corrupt scan checkpoint, scanning will be slow until it is rebuilt")
		return NewCheckpoint(), nil
	}
	if cp.Version != checkpointVersion {
		log.WithField("path", path).WithField("version", cp.Version).Warn("outdated scan checkpoint, discarding")
		return NewCheckpoint(), nil
	}
	if cp.Files == nil {
		cp.Files = make(map[string]int64)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically: a reader sees the old file or the
// new one, never a partial write.
func (c *Checkpoint) Save(path string) error {
	c.Version = checkpointVersion
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after the rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
