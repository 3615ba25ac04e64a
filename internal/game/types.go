// internal/game/types.go
//
// Core type definitions for the dish guessing engine.
// Defines:
//   - State:   lifecycle of one game (playing/won/lost).
//   - Verdict: three-way comparison tier (correct/close/wrong).
//   - Matches: per-attribute comparison of a guess against the target.
//   - Progress: attempts + state, the mutable part of a session.

package game

import "github.com/robalobadob/almadle/internal/catalog"

// MaxAttempts is the number of guesses before a game is lost.
const MaxAttempts = 6

// State is the lifecycle state of a game.
type State string

const (
	StatePlaying State = "playing"
	StateWon     State = "won"
	StateLost    State = "lost"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePlaying, StateWon, StateLost:
		return true
	}
	return false
}

// Terminal reports whether the game has ended.
func (s State) Terminal() bool { return s == StateWon || s == StateLost }

// Verdict is the comparison tier for one attribute.
type Verdict string

const (
	VerdictCorrect Verdict = "correct"
	VerdictClose   Verdict = "close"
	VerdictWrong   Verdict = "wrong"
)

// Direction tells whether the guessed value is above or below the target.
// Empty when the values are equal.
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionHigher Direction = "higher"
	DirectionLower  Direction = "lower"
)

// Matches is the per-attribute feedback for one guess.
type Matches struct {
	Category       bool      `json:"category"`
	Diet           bool      `json:"diet"`
	CarbSource     bool      `json:"carb_source"`
	Price          Verdict   `json:"price"`
	PriceDirection Direction `json:"priceDirection,omitempty"`
	AllergenCount  Verdict   `json:"allergenCount"`
	NameLength     Verdict   `json:"nameLength"`
	NameLengthDiff int       `json:"nameLengthDiff"`
}

// GuessResult is returned to the client for each accepted guess.
type GuessResult struct {
	Dish    catalog.PublicDish `json:"dish"`
	Matches Matches            `json:"matches"`
	Tiles   string             `json:"tiles"`
}

// Progress is the part of a game that changes per guess.
type Progress struct {
	Attempts int
	State    State
}
