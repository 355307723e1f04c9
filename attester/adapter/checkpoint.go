package adapter

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Checkpoint persists an adapter's last fully promoted source block to a
// single file so a restart resumes close to where observation stopped. The
// write is atomic (write to a sibling temp file, then rename); a torn
// checkpoint is therefore impossible and a missing one simply triggers the
// back-scan path.
type Checkpoint struct {
	path string
}

// NewCheckpoint returns a checkpoint bound to the given path. An empty path
// disables persistence; Load then reports no checkpoint and Save is a no-op.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Load reads the persisted block height. ok is false when no checkpoint
// exists.
func (c *Checkpoint) Load() (block uint64, ok bool, err error) {
	if c.path == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "reading checkpoint")
	}
	block, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, errors.Wrap(err, "parsing checkpoint")
	}
	return block, true, nil
}

// Save atomically persists the block height.
func (c *Checkpoint) Save(block uint64) error {
	if c.path == "" {
		return nil
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(block, 10)+"\n"), 0o600); err != nil {
		return errors.Wrap(err, "writing checkpoint")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrap(err, "renaming checkpoint")
	}
	return nil
}
