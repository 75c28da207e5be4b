// Package storage keeps received files on disk and records them in a
// SQLite ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultName = "file"
	// maxDuplicates bounds the "name (n).ext" search.
	maxDuplicates = 10_000
)

// Dir writes received files into one directory.
type Dir struct {
	path string
}

// NewDir creates path if needed.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		path = "."
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory.
func (d *Dir) Path() string {
	return d.path
}

// Save writes payload under a sanitized form of name.
func (d *Dir) Save(ctx context.Context, payload []byte, name string) error {
	_, err := d.Store(ctx, payload, name)
	return err
}

// Store writes payload and returns the path it was written to. An existing
// file is never overwritten: the name gets a " (n)" suffix instead.
func (d *Dir) Store(ctx context.Context, payload []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := SanitizeName(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 0; n < maxDuplicates; n++ {
		candidate := base
		if n > 0 {
			candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
		}
		path := filepath.Join(d.path, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", candidate, err)
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", candidate, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many files named %q", base)
}

// SanitizeName strips directories from a remote-supplied name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	switch name {
	case "", ".", "..", "/":
		return defaultName
	}
	return name
}
