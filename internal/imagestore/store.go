// internal/imagestore/store.go
//
// Image asset lookup for dish photos.
//
// Dish records carry an image reference such as "images/kippenpasta.png".
// Only the base name of that reference is ever used to locate bytes, so a
// reference cannot walk out of the configured roots.

package imagestore

import (
	"context"
	"errors"
	"path"
	"strings"
)

// MaxImageBytes caps how much of a single asset is read.
const MaxImageBytes = 10 << 20

var (
	// ErrNotFound means no backend holds the referenced image.
	ErrNotFound = errors.New("imagestore: image not found")
	// ErrTooLarge means the asset exceeds MaxImageBytes.
	ErrTooLarge = errors.New("imagestore: image too large")
)

// Store fetches image bytes by dish image reference.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Key reduces ref to the base name used by every backend. It returns "" for
// references without a usable name.
func Key(ref string) string {
	ref = strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/")
	base := path.Base(ref)
	switch base {
	case "", ".", "..", "/":
		return ""
	}
	return base
}

// Chain tries each store in order and returns the first hit.
type Chain []Store

// Get implements Store.
func (c Chain) Get(ctx context.Context, ref string) ([]byte, error) {
	for _, s := range c {
		b, err := s.Get(ctx, ref)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
