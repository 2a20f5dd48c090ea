package model

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the trained state to dir/model.t2v. The write goes through a
// temp file and a rename so a crashed trainer never leaves a torn artifact
// for the next boot to load.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(m); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("replacing artifact: %w", err)
	}
	return nil
}

// Load reads dir/model.t2v. The returned model has no index yet; the caller
// must Index it before querying.
func Load(dir string) (*Model, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	var m Model
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	return &m, nil
}
