// Package store persists ModelState snapshots.
package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/b0tShaman/neuro-digits/ml"
)

// File keeps a model in a single file on disk.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Save replaces the file's contents with s. The bytes go to a temporary file
// in the same directory which is then renamed over the target, so readers
// never see a partial model.
func (f *File) Save(ctx context.Context, s ml.ModelState) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ml.ErrPersistence, "save %s: %v", f.path, err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(ml.ErrPersistence, "save %s: %v", f.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(Encode(s)); err != nil {
		tmp.Close()
		return errors.Wrapf(ml.ErrPersistence, "write %s: %v", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(ml.ErrPersistence, "sync %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(ml.ErrPersistence, "close %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return errors.Wrapf(ml.ErrPersistence, "replace %s: %v", f.path, err)
	}
	return nil
}

// Load reads and decodes the file. A missing file is an ErrPersistence and
// nothing is created.
func (f *File) Load(ctx context.Context) (ml.ModelState, error) {
	if err := ctx.Err(); err != nil {
		return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "load %s: %v", f.path, err)
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "load %s: %v", f.path, err)
	}
	s, err := Decode(b)
	if err != nil {
		return ml.ModelState{}, errors.WithMessage(err, f.path)
	}
	return s, nil
}

// Memory keeps the encoded model in process memory.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, s ml.ModelState) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ml.ErrPersistence, "save: %v", err)
	}
	b := Encode(s)
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(ctx context.Context) (ml.ModelState, error) {
	if err := ctx.Err(); err != nil {
		return ml.ModelState{}, errors.Wrapf(ml.ErrPersistence, "load: %v", err)
	}
	m.mu.Lock()
	b := m.data
	m.mu.Unlock()
	if b == nil {
		return ml.ModelState{}, errors.Wrap(ml.ErrPersistence, "no model saved")
	}
	return Decode(b)
}
