// internal/selector/selector.go
//
// Target dish selection.
//
// Three named operations, deliberately kept apart:
//   - Daily:    calendar seed (YYYYMMDD) → mulberry32 → first draw picks the index.
//   - ForToken: arbitrary token → FNV-1a 32 over UTF-16 code units → index. Same token, same dish, across restarts.
//   - Random:   crypto/rand index for unseeded practice rounds; not reproducible.
//
// The seeded operations are pure functions of (seed, catalog order).

package selector

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/robalobadob/almadle/internal/catalog"
)

// ErrInvalidSeed is returned for calendar seeds that are not a YYYYMMDD date.
var ErrInvalidSeed = errors.New("selector: invalid date seed")

// Selector draws target dishes from a catalog.
type Selector struct {
	cat *catalog.Catalog
	loc *time.Location
}

// New returns a Selector over cat. Calendar dates are taken in loc
// (time.Local when nil).
func New(cat *catalog.Catalog, loc *time.Location) (*Selector, error) {
	if cat == nil || cat.Len() == 0 {
		return nil, catalog.ErrEmpty
	}
	if loc == nil {
		loc = time.Local
	}
	return &Selector{cat: cat, loc: loc}, nil
}

// DateKey formats t as the compact calendar seed in the selector's zone.
func (s *Selector) DateKey(t time.Time) string {
	return t.In(s.loc).Format("20060102")
}

// Daily returns the dish for the calendar day containing t.
func (s *Selector) Daily(t time.Time) catalog.Dish {
	d, _ := s.DailySeed(s.DateKey(t))
	return d
}

// DailySeed returns the dish for a calendar seed such as "2025-01-15" or
// "20250115".
func (s *Selector) DailySeed(date string) (catalog.Dish, error) {
	key := NormalizeSeed(date)
	if len(key) != 8 {
		return catalog.Dish{}, fmt.Errorf("%w: %q", ErrInvalidSeed, date)
	}
	if _, err := time.Parse("20060102", key); err != nil {
		return catalog.Dish{}, fmt.Errorf("%w: %q", ErrInvalidSeed, date)
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return catalog.Dish{}, fmt.Errorf("%w: %q", ErrInvalidSeed, date)
	}
	next := mulberry32(uint32(n))
	return s.cat.At(scale(next(), s.cat.Len())), nil
}

// ForToken returns the dish for an arbitrary token.
func (s *Selector) ForToken(token string) catalog.Dish {
	return s.cat.At(int((uint64(tokenHash(NormalizeSeed(token))) * uint64(s.cat.Len())) >> 32))
}

// FNV-1a 32 parameters.
const (
	fnvOffset32 = 0x811c9dc5
	fnvPrime32  = 0x01000193
)

// tokenHash is FNV-1a 32 folded over the UTF-16 code units of token, one
// unit per step. For ASCII tokens this equals FNV-1a over the bytes.
func tokenHash(token string) uint32 {
	h := uint32(fnvOffset32)
	for _, u := range utf16.Encode([]rune(token)) {
		h ^= uint32(u)
		h *= fnvPrime32
	}
	return h
}

// Random returns a uniformly random dish from the platform's secure source.
func (s *Selector) Random() (catalog.Dish, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(s.cat.Len())))
	if err != nil {
		return catalog.Dish{}, fmt.Errorf("selector: random index: %w", err)
	}
	return s.cat.At(int(n.Int64())), nil
}

// NewToken returns a fresh token for a seeded round.
func NewToken() string {
	return NormalizeSeed(uuid.NewString())
}

// NormalizeSeed strips whitespace and date separators so that equivalent
// spellings of a seed hash identically.
func NormalizeSeed(seed string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '/', '.', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, seed)
}

// mulberry32 is a 32-bit multiplicative xorshift generator. Each call yields
// a value in [0, 1).
func mulberry32(a uint32) func() float64 {
	return func() float64 {
		a += 0x6D2B79F5
		t := a
		t = (t ^ (t >> 15)) * (t | 1)
		t ^= t + (t^(t>>7))*(t|61)
		return float64(t^(t>>14)) / 4294967296.0
	}
}

// scale maps r in [0, 1) onto [0, n).
func scale(r float64, n int) int {
	i := int(r * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
