// internal/imagestore/fs.go
//
// Local directory backend. Directories are searched in order, so a private
// data/images directory can shadow a public/images fallback.

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Dirs is a Store over local directories.
type Dirs []string

// Get implements Store.
func (d Dirs) Get(ctx context.Context, ref string) ([]byte, error) {
	key := Key(ref)
	if key == "" {
		return nil, ErrNotFound
	}
	for _, dir := range d {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := readCapped(filepath.Join(dir, key))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrNotFound
}

func readCapped(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("imagestore: stat %s: %w", p, err)
	}
	if fi.IsDir() {
		return nil, fs.ErrNotExist
	}
	return readAllCapped(f)
}

func readAllCapped(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imagestore: read: %w", err)
	}
	if len(b) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}
