// internal/game/engine.go
//
// Scoring and state transitions for a single game.
// Responsibilities:
//   - Compare a guessed dish to the target, attribute by attribute.
//   - Decide win by dish identity, never by attribute equality.
//   - Advance attempts/state; terminal games are frozen.
//   - Map verdicts to share tiles through one table.
//
// Everything here is pure: no I/O, no clocks, no randomness.

package game

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/robalobadob/almadle/internal/catalog"
)

// Policy thresholds for the "close" tier.
var (
	priceCloseWithin = decimal.NewFromInt(1)
)

const (
	allergenCloseWithin   = 2
	nameLengthCloseWithin = 3
)

// verdictTiles maps each verdict to its share tile.
var verdictTiles = map[Verdict]string{
	VerdictCorrect: "🟩",
	VerdictClose:   "🟨",
	VerdictWrong:   "⬜",
}

// Tile returns the share tile for v.
func (v Verdict) Tile() string { return verdictTiles[v] }

// FromBool maps a boolean attribute match onto the verdict scale.
func FromBool(match bool) Verdict {
	if match {
		return VerdictCorrect
	}
	return VerdictWrong
}

// Evaluate compares guess with target.
func Evaluate(guess, target catalog.Dish) Matches {
	m := Matches{
		Category:   guess.Category == target.Category,
		Diet:       guess.Diet == target.Diet,
		CarbSource: guess.CarbSource == target.CarbSource,
	}

	priceDiff := guess.PriceStudent.Sub(target.PriceStudent)
	m.Price = tier(priceDiff.IsZero(), priceDiff.Abs().LessThanOrEqual(priceCloseWithin))
	switch priceDiff.Sign() {
	case 1:
		m.PriceDirection = DirectionHigher
	case -1:
		m.PriceDirection = DirectionLower
	}

	allergenDiff := abs(len(guess.Allergens) - len(target.Allergens))
	m.AllergenCount = tier(allergenDiff == 0, allergenDiff <= allergenCloseWithin)

	m.NameLengthDiff = utf8.RuneCountInString(guess.Name) - utf8.RuneCountInString(target.Name)
	m.NameLength = tier(m.NameLengthDiff == 0, abs(m.NameLengthDiff) <= nameLengthCloseWithin)

	return m
}

// Score builds the client-facing result for one guess.
func Score(guess, target catalog.Dish) GuessResult {
	m := Evaluate(guess, target)
	return GuessResult{Dish: guess.Public(), Matches: m, Tiles: m.Tiles()}
}

// IsWin reports whether guess is the target dish.
func IsWin(guess, target catalog.Dish) bool { return guess.ID == target.ID }

// Tiles renders the share row: diet, carb source, price, allergen count,
// name length.
func (m Matches) Tiles() string {
	var b strings.Builder
	for _, v := range []Verdict{
		FromBool(m.Diet),
		FromBool(m.CarbSource),
		m.Price,
		m.AllergenCount,
		m.NameLength,
	} {
		b.WriteString(v.Tile())
	}
	return b.String()
}

// Advance applies one guess outcome to p.
//
// State transitions:
//   - Terminal progress is returned unchanged.
//   - Otherwise attempts increase by one; a win ends the game as won,
//     reaching MaxAttempts without a win ends it as lost.
func Advance(p Progress, won bool) Progress {
	if p.State.Terminal() {
		return p
	}
	p.Attempts++
	switch {
	case won:
		p.State = StateWon
	case p.Attempts >= MaxAttempts:
		p.State = StateLost
	default:
		p.State = StatePlaying
	}
	return p
}

func tier(exact, near bool) Verdict {
	switch {
	case exact:
		return VerdictCorrect
	case near:
		return VerdictClose
	}
	return VerdictWrong
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
