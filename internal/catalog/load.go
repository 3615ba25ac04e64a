// internal/catalog/load.go
//
// Catalog sources.
//
// Load picks a source from the configured path:
//   1. empty path      → embedded default snapshot (assets/dishes.json)
//   2. *.db / *.sqlite → SQLite snapshot (see sqlite.go)
//   3. anything else   → JSON file in the dataset format
//
// The JSON format is the one produced by the offline ingestion job: an array
// of objects with id, name, image_url, category, diet, carb_source,
// price_student, env_score and allergens.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robalobadob/almadle/assets"
)

// Load builds a Catalog from path (see package comment for source rules).
func Load(ctx context.Context, path string) (*Catalog, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
		return ParseJSON(assets.DefaultDishes())
	case ext == ".db" || ext == ".sqlite" || ext == ".sqlite3":
		return LoadSQLite(ctx, path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		return ParseJSON(data)
	}
}

// ParseJSON decodes a dataset array and validates it.
func ParseJSON(data []byte) (*Catalog, error) {
	var dishes []Dish
	if err := json.Unmarshal(data, &dishes); err != nil {
		return nil, fmt.Errorf("catalog: decode json: %w", err)
	}
	return New(dishes)
}
