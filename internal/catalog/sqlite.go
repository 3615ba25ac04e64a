// internal/catalog/sqlite.go
//
// SQLite catalog snapshot.
//
// The ingestion job can publish the catalog as a SQLite file instead of JSON.
// The server opens it read-only, reads the dishes table once in id order and
// closes the handle; nothing is written back.
//
// Expected schema:
//
//	CREATE TABLE dishes (
//	    id            INTEGER PRIMARY KEY,
//	    name          TEXT NOT NULL,
//	    image_url     TEXT NOT NULL DEFAULT '',
//	    category      TEXT NOT NULL DEFAULT '',
//	    diet          TEXT NOT NULL DEFAULT '',
//	    carb_source   TEXT NOT NULL DEFAULT '',
//	    price_student TEXT NOT NULL,          -- decimal string, e.g. "5.20"
//	    env_score     TEXT NOT NULL DEFAULT '',
//	    allergens     TEXT NOT NULL DEFAULT '' -- comma separated tags
//	);

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// LoadSQLite reads the dishes table from the database file at path.
func LoadSQLite(ctx context.Context, path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		// sqlite3 would happily create an empty file; refuse instead.
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
        SELECT id, name, image_url, category, diet, carb_source,
               price_student, env_score, allergens
        FROM dishes
        ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query dishes: %w", err)
	}
	defer rows.Close()

	var dishes []Dish
	for rows.Next() {
		var (
			d         Dish
			price     string
			allergens string
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.ImageRef, &d.Category, &d.Diet,
			&d.CarbSource, &price, &d.EnvScore, &allergens); err != nil {
			return nil, fmt.Errorf("catalog: scan dish: %w", err)
		}
		d.PriceStudent, err = decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("%w: dish %d price %q", ErrInvalidDish, d.ID, price)
		}
		if allergens != "" {
			d.Allergens = strings.Split(allergens, ",")
		}
		dishes = append(dishes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read dishes: %w", err)
	}

	log.Info().Str("path", path).Int("dishes", len(dishes)).Msg("loaded sqlite catalog")
	return New(dishes)
}
