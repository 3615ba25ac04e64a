// internal/catalog/catalog.go
//
// Read-only dish catalog for the game.
//
// Responsibilities:
//   - Hold the ordered dish snapshot loaded once at startup.
//   - Validate the snapshot (non-empty, positive unique ids, sane prices).
//   - Lookup by id and positional access for the selector.
//   - Produce the public projection served to clients (image reference stripped).
//
// The catalog never changes after construction, so it is safe to share across
// request goroutines without locking.

package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty is returned when a snapshot contains no dishes.
	ErrEmpty = errors.New("catalog: no dishes")
	// ErrInvalidDish is returned when a dish fails validation.
	ErrInvalidDish = errors.New("catalog: invalid dish")
)

// Dish is one menu item. ImageRef is resolved by an imagestore.Store and is
// never sent to clients.
type Dish struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	ImageRef     string          `json:"image_url"`
	Category     string          `json:"category"`
	Diet         string          `json:"diet"`
	CarbSource   string          `json:"carb_source"`
	PriceStudent decimal.Decimal `json:"price_student"`
	EnvScore     string          `json:"env_score,omitempty"`
	Allergens    []string        `json:"allergens,omitempty"`
}

// PublicDish is the client-facing view of a Dish.
type PublicDish struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Diet         string   `json:"diet"`
	CarbSource   string   `json:"carb_source"`
	PriceStudent float64  `json:"price_student"`
	EnvScore     string   `json:"env_score,omitempty"`
	Allergens    []string `json:"allergens"`
}

// Public strips the image reference.
func (d Dish) Public() PublicDish {
	allergens := d.Allergens
	if allergens == nil {
		allergens = []string{}
	}
	return PublicDish{
		ID:           d.ID,
		Name:         d.Name,
		Category:     d.Category,
		Diet:         d.Diet,
		CarbSource:   d.CarbSource,
		PriceStudent: d.PriceStudent.InexactFloat64(),
		EnvScore:     d.EnvScore,
		Allergens:    allergens,
	}
}

// Catalog is an immutable, ordered set of dishes.
type Catalog struct {
	dishes []Dish
	byID   map[int]int // dish id -> index in dishes
}

// New validates dishes and builds a Catalog. Order is preserved; it defines
// the index space used by the selector.
func New(dishes []Dish) (*Catalog, error) {
	if len(dishes) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		dishes: make([]Dish, 0, len(dishes)),
		byID:   make(map[int]int, len(dishes)),
	}
	for i, d := range dishes {
		d.Name = strings.TrimSpace(d.Name)
		d.Allergens = normalizeAllergens(d.Allergens)
		d.PriceStudent = d.PriceStudent.Round(2)

		if d.ID <= 0 {
			return nil, fmt.Errorf("%w: entry %d has id %d", ErrInvalidDish, i, d.ID)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("%w: dish %d has no name", ErrInvalidDish, d.ID)
		}
		if d.PriceStudent.IsNegative() {
			return nil, fmt.Errorf("%w: dish %d has negative price", ErrInvalidDish, d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidDish, d.ID)
		}
		c.byID[d.ID] = len(c.dishes)
		c.dishes = append(c.dishes, d)
	}
	return c, nil
}

// Len reports the number of dishes.
func (c *Catalog) Len() int { return len(c.dishes) }

// At returns the dish at position i in snapshot order.
func (c *Catalog) At(i int) Dish { return c.dishes[i] }

// ByID looks up a dish by id.
func (c *Catalog) ByID(id int) (Dish, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Dish{}, false
	}
	return c.dishes[i], true
}

// Public returns every dish without its image reference, in snapshot order.
func (c *Catalog) Public() []PublicDish {
	return lo.Map(c.dishes, func(d Dish, _ int) PublicDish { return d.Public() })
}

// normalizeAllergens trims tags, drops blanks and duplicates.
func normalizeAllergens(tags []string) []string {
	trimmed := lo.Map(tags, func(t string, _ int) string { return strings.TrimSpace(t) })
	return lo.Uniq(lo.Compact(trimmed))
}
