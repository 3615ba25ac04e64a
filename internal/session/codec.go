// internal/session/codec.go
//
// Tamper-evident, client-held game sessions.
//
// Token layout:
//
//	base64url(json(session)) "." base64url(HMAC-SHA256(key, payload))
//
// The server keeps no copy of a session. Every request re-verifies the token
// it receives, so the token is the whole durable state of a game in progress.
//
// Verification fails closed: any structural, signature, schema or expiry
// problem makes Decode report "no session" without saying which check failed.

package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/robalobadob/almadle/internal/game"
)

const (
	// Version is the current session schema tag.
	Version = 1
	// DefaultTTL is the maximum session age.
	DefaultTTL = 24 * time.Hour

	// clockSkew bounds how far in the future createdAt may lie.
	clockSkew = 5 * time.Minute
	keyInfo   = "almadle session v1"
)

// Mode records how the target was drawn.
type Mode string

const (
	ModeRandom Mode = "random"
	ModeDaily  Mode = "daily"
	ModeSeeded Mode = "seeded"
)

// Session is one game. TargetID must not reach the client while the game is
// in progress.
type Session struct {
	V         int        `json:"v"`
	TargetID  int        `json:"targetId"`
	Attempts  int        `json:"attempts"`
	State     game.State `json:"state"`
	CreatedAt int64      `json:"createdAt"` // unix milliseconds
	Mode      Mode       `json:"mode,omitempty"`
	Seed      string     `json:"seed,omitempty"`
}

// New starts a playing session for target at now.
func New(targetID int, mode Mode, seed string, now time.Time) Session {
	return Session{
		V:         Version,
		TargetID:  targetID,
		Attempts:  0,
		State:     game.StatePlaying,
		CreatedAt: now.UnixMilli(),
		Mode:      mode,
		Seed:      seed,
	}
}

// Progress returns the mutable part of s.
func (s Session) Progress() game.Progress {
	return game.Progress{Attempts: s.Attempts, State: s.State}
}

// WithProgress returns a copy of s carrying p.
func (s Session) WithProgress(p game.Progress) Session {
	s.Attempts = p.Attempts
	s.State = p.State
	return s
}

// Created returns the creation time.
func (s Session) Created() time.Time { return time.UnixMilli(s.CreatedAt) }

// Codec signs and verifies session tokens.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(c *Codec) { c.ttl = ttl } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

// NewCodec derives the MAC key from secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("session: empty secret")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	c := &Codec{key: key, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TTL returns the configured session lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Now returns the codec's clock reading.
func (c *Codec) Now() time.Time { return c.now() }

// Expires returns the instant s stops being valid.
func (c *Codec) Expires(s Session) time.Time { return s.Created().Add(c.ttl) }

var b64 = base64.RawURLEncoding.Strict()

// Encode serialises and signs s.
func (c *Codec) Encode(s Session) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	payload := b64.EncodeToString(raw)
	sig, err := jwt.SigningMethodHS256.Sign(payload, c.key)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return payload + "." + b64.EncodeToString(sig), nil
}

// Decode verifies token and returns the session it carries. ok is false for
// any invalid, tampered or expired token.
func (c *Codec) Decode(token string) (s Session, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Session{}, false
	}
	payload := parts[0]

	sig, err := b64.DecodeString(parts[1])
	if err != nil || len(sig) != sha256.Size {
		return Session{}, false
	}
	// Verify recomputes the MAC and compares with hmac.Equal (constant time).
	if err := jwt.SigningMethodHS256.Verify(payload, sig, c.key); err != nil {
		return Session{}, false
	}

	raw, err := b64.DecodeString(payload)
	if err != nil {
		return Session{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Session{}, false
	}
	if !c.valid(s) {
		return Session{}, false
	}
	return s, true
}

func (c *Codec) valid(s Session) bool {
	if s.V != Version || s.TargetID <= 0 || !s.State.Valid() {
		return false
	}
	if s.Attempts < 0 || s.Attempts > game.MaxAttempts {
		return false
	}
	switch s.State {
	case game.StatePlaying:
		if s.Attempts >= game.MaxAttempts {
			return false
		}
	case game.StateWon:
		if s.Attempts < 1 {
			return false
		}
	case game.StateLost:
		if s.Attempts != game.MaxAttempts {
			return false
		}
	}
	switch s.Mode {
	case "", ModeRandom, ModeDaily, ModeSeeded:
	default:
		return false
	}
	now := c.now()
	created := s.Created()
	if created.After(now.Add(clockSkew)) {
		return false
	}
	return now.Sub(created) <= c.ttl
}
