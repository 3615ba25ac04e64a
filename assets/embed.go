package assets

import (
	_ "embed"
)

// dishes.json is the snapshot used when no catalog path is configured.
//
//go:embed dishes.json
var dishes []byte

// DefaultDishes returns the embedded catalog snapshot in dataset JSON format.
func DefaultDishes() []byte {
	out := make([]byte, len(dishes))
	copy(out, dishes)
	return out
}
