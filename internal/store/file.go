package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fentz26/utimer/internal/models"
	"github.com/spf13/afero"
)

// File is a Backend that keeps one file per key in a directory. Writes go
// through a temp file and a rename, so a crash never leaves a torn value.
type File struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFile returns a File backend rooted at dir on fs.
func NewFile(fs afero.Fs, dir string) (*File, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{fs: fs, dir: dir}, nil
}

// Ping checks that the store directory is still there.
func (f *File) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := f.fs.Stat(f.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.dir)
	}
	return nil
}

func (f *File) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(f.dir, safe+".json")
}

// Get returns the value stored under key, or nil if there is none.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, f.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set overwrites the value stored under key.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)
	if existing, err := afero.ReadFile(f.fs, target); err == nil && bytes.Equal(existing, value) {
		return nil
	}

	tmp, err := afero.TempFile(f.fs, f.dir, filepath.Base(target)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	_, err = tmp.Write(value)
	if err1 := tmp.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		f.fs.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.fs.Rename(name, target); err != nil {
		f.fs.Remove(name)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// WritePDR appends a Process Decision Record to pdr.jsonl.
func (f *File) WritePDR(ctx context.Context, action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdr := newPDREntry(action, inputsHash, outcome, taskID, details)
	line, err := json.Marshal(pdr)
	if err != nil {
		return nil, fmt.Errorf("marshal pdr: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := f.fs.OpenFile(filepath.Join(f.dir, "pdr.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open pdr log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append pdr: %w", err)
	}
	return pdr, nil
}

var _ Backend = (*File)(nil)
