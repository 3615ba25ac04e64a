// internal/httpserver/routes_game.go
//
// HTTP routes for a game round. Exposed under /api/game:
//   - GET  /api/game/start  → start a round (or keep the one in progress)
//   - GET  /api/game/state  → current progress; target revealed once ended
//   - POST /api/game/guess  → score one guess and advance the round
//   - GET  /api/game/image  → the target photo at the current reveal tier
//   - POST /api/game/reset  → drop the session cookie
//
// Every handler derives the round from the signed session cookie alone. The
// image endpoint takes no stage or attempt parameter; the reveal tier comes
// from verified session progress only.
//
// Rounds come in three modes:
//   - random: crypto-random target (default).
//   - daily:  calendar seed, today unless ?date=YYYY-MM-DD is given.
//   - seeded: arbitrary ?seed=, or a fresh token when none is given.
// A seed is echoed back only once the round has ended.

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/almadle/internal/catalog"
	"github.com/robalobadob/almadle/internal/disclosure"
	"github.com/robalobadob/almadle/internal/game"
	"github.com/robalobadob/almadle/internal/imagestore"
	"github.com/robalobadob/almadle/internal/selector"
	"github.com/robalobadob/almadle/internal/session"
)

const (
	maxSeedLen   = 64
	maxGuessBody = 4 << 10
)

var (
	errBadMode = errors.New("unknown mode")
	errBadSeed = errors.New("seed too long")
	errBadID   = errors.New("guessId must be an integer")
)

// mountGame registers all /api/game routes.
func (s *Server) mountGame(r chi.Router) {
	limited := r
	if s.limiter != nil {
		limited = r.With(s.limiter.Middleware)
	}
	limited.Get("/start", s.handleStart)
	limited.Post("/guess", s.handleGuess)
	r.Get("/state", s.handleState)
	r.Get("/image", s.handleImage)
	r.Post("/reset", s.handleReset)
}

// dishRef names a dish without its attributes.
type dishRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func refOf(d catalog.Dish) *dishRef { return &dishRef{ID: d.ID, Name: d.Name} }

// gameStatus is returned by /start and /state.
type gameStatus struct {
	MaxAttempts int          `json:"maxAttempts"`
	Attempts    int          `json:"attempts"`
	State       game.State   `json:"state"`
	Mode        session.Mode `json:"mode"`
	Seed        string       `json:"seed,omitempty"`
	Target      *dishRef     `json:"target,omitempty"`
}

func (s *Server) status(sess session.Session) gameStatus {
	st := gameStatus{
		MaxAttempts: game.MaxAttempts,
		Attempts:    sess.Attempts,
		State:       sess.State,
		Mode:        modeOf(sess),
	}
	if sess.State.Terminal() {
		st.Seed = sess.Seed
		if d, ok := s.cat.ByID(sess.TargetID); ok {
			st.Target = refOf(d)
		}
	}
	return st
}

func modeOf(sess session.Session) session.Mode {
	if sess.Mode == "" {
		return session.ModeRandom
	}
	return sess.Mode
}

// ------------------------------- start -------------------------------------

// roundRequest is the round /start was asked for. An empty seed means the
// server picks one.
type roundRequest struct {
	explicit bool // a mode was named in the query
	mode     session.Mode
	seed     string
}

func parseRound(q url.Values) (roundRequest, error) {
	req := roundRequest{explicit: q.Get("mode") != ""}
	switch session.Mode(strings.ToLower(strings.TrimSpace(q.Get("mode")))) {
	case "", session.ModeRandom:
		req.mode = session.ModeRandom
	case session.ModeDaily:
		req.mode = session.ModeDaily
		req.seed = selector.NormalizeSeed(q.Get("date"))
	case session.ModeSeeded:
		req.mode = session.ModeSeeded
		req.seed = selector.NormalizeSeed(q.Get("seed"))
	default:
		return roundRequest{}, errBadMode
	}
	if len(req.seed) > maxSeedLen {
		return roundRequest{}, errBadSeed
	}
	return req, nil
}

// continues reports whether the playing session cur already is the round req
// asks for.
func (req roundRequest) continues(cur session.Session) bool {
	if !req.explicit {
		return true
	}
	if modeOf(cur) != req.mode {
		return false
	}
	return req.seed == "" || req.seed == cur.Seed
}

// draw picks the target for req.
func (s *Server) draw(req roundRequest) (catalog.Dish, string, error) {
	switch req.mode {
	case session.ModeDaily:
		d, err := s.sel.DailySeed(req.seed)
		return d, req.seed, err
	case session.ModeSeeded:
		seed := req.seed
		if seed == "" {
			seed = selector.NewToken()
		}
		return s.sel.ForToken(seed), seed, nil
	default:
		d, err := s.sel.Random()
		return d, "", err
	}
}

// handleStart issues a fresh session when there is none, the previous round
// ended, ?new=1 is given, or the query names a different round. Otherwise the
// round in progress is kept.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseRound(q)
	if errors.Is(err, errBadSeed) {
		writeError(w, http.StatusBadRequest, "bad_seed")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_mode")
		return
	}
	if req.mode == session.ModeDaily && req.seed == "" {
		req.seed = s.sel.DateKey(s.sessions.Codec.Now())
	}

	cur, ok := s.sessions.Read(r)
	if ok && cur.State == game.StatePlaying && q.Get("new") != "1" && req.continues(cur) {
		writeJSON(w, http.StatusOK, s.status(cur))
		return
	}

	target, seed, err := s.draw(req)
	if errors.Is(err, selector.ErrInvalidSeed) {
		writeError(w, http.StatusBadRequest, "bad_date")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("draw target")
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}

	sess := session.New(target.ID, req.mode, seed, s.sessions.Codec.Now())
	if err := s.sessions.Write(w, sess); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write session")
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}
	hlog.FromRequest(r).Info().Str("mode", string(req.mode)).Msg("round started")
	writeJSON(w, http.StatusOK, s.status(sess))
}

// ------------------------------- state -------------------------------------

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Read(r)
	if !ok {
		writeError(w, http.StatusConflict, "no_active_game")
		return
	}
	writeJSON(w, http.StatusOK, s.status(sess))
}

// ------------------------------- guess -------------------------------------

// dishID accepts a JSON number or a numeric string.
type dishID int

func (id *dishID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		b = []byte(strings.TrimSpace(str))
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return errBadID
	}
	*id = dishID(n)
	return nil
}

type guessReq struct {
	GuessID dishID `json:"guessId"`
}

// guessRes is the reply to a scored guess. Target stays null while playing.
type guessRes struct {
	Guess       game.GuessResult `json:"guess"`
	State       game.State       `json:"state"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"maxAttempts"`
	Target      *dishRef         `json:"target"`
}

// endedRes echoes a finished round without scoring anything.
type endedRes struct {
	State    game.State `json:"state"`
	Attempts int        `json:"attempts"`
	Target   *dishRef   `json:"target"`
}

// handleGuess scores one guess against the session's target and re-issues
// the session with advanced progress. Guesses on a finished round change
// nothing.
func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Read(r)
	if !ok {
		writeError(w, http.StatusConflict, "no_active_game")
		return
	}

	var req guessReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGuessBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	guess, ok := s.cat.ByID(int(req.GuessID))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_dish")
		return
	}
	target, ok := s.cat.ByID(sess.TargetID)
	if !ok {
		// Signed by us but the dish is gone from the catalog.
		writeError(w, http.StatusBadRequest, "unknown_dish")
		return
	}

	if sess.State.Terminal() {
		writeJSON(w, http.StatusOK, endedRes{State: sess.State, Attempts: sess.Attempts, Target: refOf(target)})
		return
	}

	won := game.IsWin(guess, target)
	result := game.Score(guess, target)
	next := sess.WithProgress(game.Advance(sess.Progress(), won))
	if err := s.sessions.Write(w, next); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write session")
		writeError(w, http.StatusInternalServerError, "guess_failed")
		return
	}

	res := guessRes{
		Guess:       result,
		State:       next.State,
		Attempts:    next.Attempts,
		MaxAttempts: game.MaxAttempts,
	}
	if next.State.Terminal() {
		res.Target = refOf(target)
		hlog.FromRequest(r).Info().
			Str("state", string(next.State)).
			Int("attempts", next.Attempts).
			Str("mode", string(modeOf(next))).
			Msg("round ended")
	}
	writeJSON(w, http.StatusOK, res)
}

// ------------------------------- image -------------------------------------

// handleImage serves the session target's photo at the tier its verified
// progress allows. Query parameters are ignored.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Read(r)
	if !ok {
		writeError(w, http.StatusConflict, "no_active_game")
		return
	}
	target, ok := s.cat.ByID(sess.TargetID)
	if !ok || target.ImageRef == "" {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	src, err := s.images.Get(r.Context(), target.ImageRef)
	if err != nil {
		ev := hlog.FromRequest(r).Warn()
		if !errors.Is(err, imagestore.ErrNotFound) && !errors.Is(err, imagestore.ErrTooLarge) {
			ev = hlog.FromRequest(r).Error()
		}
		ev.Err(err).Int("dish", target.ID).Msg("image unavailable")
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	res, err := disclosure.Render(src, sess.Attempts, sess.State)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int("dish", target.ID).Msg("render image")
		writeError(w, http.StatusInternalServerError, "render_failed")
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	h.Set("Cache-Control", "no-store")
	h.Add("Vary", "Cookie")
	h.Set("X-Almadle-Mode", res.Mode)
	h.Set("X-Almadle-State", string(sess.State))
	h.Set("X-Almadle-Attempts", strconv.Itoa(sess.Attempts))
	if res.Mode == disclosure.ModePixelated {
		h.Set("X-Almadle-PixelFactor", strconv.Itoa(res.Tier.PixelFactor))
		h.Set("X-Almadle-Small", res.Tier.Small())
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

// ------------------------------- reset -------------------------------------

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
