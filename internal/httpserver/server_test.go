package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robalobadob/almadle/internal/catalog"
	"github.com/robalobadob/almadle/internal/game"
	"github.com/robalobadob/almadle/internal/imagestore"
	"github.com/robalobadob/almadle/internal/selector"
	"github.com/robalobadob/almadle/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	cat    *catalog.Catalog
	sel    *selector.Selector
	clock  *fakeClock
	codec  *session.Codec
	images map[int][]byte
}

type harnessOpt func(*Deps, *harness)

func withLimiter(l *Limiter) harnessOpt {
	return func(d *Deps, _ *harness) { d.Limiter = l }
}

func withoutImages() harnessOpt {
	return func(d *Deps, h *harness) {
		d.Images = imagestore.NewMemoryStore()
		h.images = map[int][]byte{}
	}
}

func photo(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x + seed), G: uint8(y), B: uint8(seed * 40), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cat, err := catalog.Load(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	sel, err := selector.New(cat, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{t: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	codec, err := session.NewCodec("test-secret", session.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{t: t, cat: cat, sel: sel, clock: clock, codec: codec, images: map[int][]byte{}}
	mem := imagestore.NewMemoryStore()
	for i := 0; i < cat.Len(); i++ {
		d := cat.At(i)
		b := photo(t, i)
		mem.Put(d.ImageRef, b)
		h.images[d.ID] = b
	}

	deps := Deps{
		Catalog:  cat,
		Selector: sel,
		Sessions: session.Transport{Codec: codec},
		Images:   mem,
	}
	for _, o := range opts {
		o(&deps, h)
	}

	h.srv = httptest.NewServer(New(deps).Handler())
	t.Cleanup(h.srv.Close)
	h.client = h.newClient()
	return h
}

func (h *harness) newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		h.t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

func (h *harness) do(c *http.Client, method, path, body string) (*http.Response, []byte) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		h.t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		h.t.Fatal(err)
	}
	return res, b
}

func (h *harness) get(path string) (*http.Response, []byte) {
	return h.do(h.client, http.MethodGet, path, "")
}

func (h *harness) start(query string) gameStatus {
	h.t.Helper()
	res, body := h.get("/api/game/start" + query)
	if res.StatusCode != http.StatusOK {
		h.t.Fatalf("start%s: %d %s", query, res.StatusCode, body)
	}
	var st gameStatus
	decodeInto(h.t, body, &st)
	return st
}

func (h *harness) guess(id int) (*http.Response, []byte) {
	return h.do(h.client, http.MethodPost, "/api/game/guess", fmt.Sprintf(`{"guessId":%d}`, id))
}

func (h *harness) mustGuess(id int) guessRes {
	h.t.Helper()
	res, body := h.guess(id)
	if res.StatusCode != http.StatusOK {
		h.t.Fatalf("guess %d: %d %s", id, res.StatusCode, body)
	}
	var g guessRes
	decodeInto(h.t, body, &g)
	return g
}

func (h *harness) state() (int, gameStatus) {
	h.t.Helper()
	res, body := h.get("/api/game/state")
	var st gameStatus
	if res.StatusCode == http.StatusOK {
		decodeInto(h.t, body, &st)
	}
	return res.StatusCode, st
}

// wrongIDs returns n dish ids other than target.
func (h *harness) wrongIDs(target, n int) []int {
	var ids []int
	for i := 0; i < h.cat.Len() && len(ids) < n; i++ {
		if id := h.cat.At(i).ID; id != target {
			ids = append(ids, id)
		}
	}
	if len(ids) < n {
		h.t.Fatalf("catalog too small for %d wrong guesses", n)
	}
	return ids
}

func decodeInto(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestWinFlow(t *testing.T) {
	h := newHarness(t)
	target := h.sel.ForToken("abc")

	st := h.start("?mode=seeded&seed=abc")
	if st.State != game.StatePlaying || st.Attempts != 0 || st.MaxAttempts != game.MaxAttempts {
		t.Fatalf("start = %+v", st)
	}
	if st.Mode != session.ModeSeeded || st.Seed != "" || st.Target != nil {
		t.Errorf("seed or target leaked while playing: %+v", st)
	}

	for i, id := range h.wrongIDs(target.ID, 5) {
		g := h.mustGuess(id)
		if g.Attempts != i+1 || g.State != game.StatePlaying || g.Target != nil {
			t.Fatalf("guess %d = %+v", i+1, g)
		}
		if g.Guess.Dish.ID != id || g.Guess.Tiles == "" {
			t.Errorf("guess %d result = %+v", i+1, g.Guess)
		}
	}

	res, body := h.get("/api/game/image")
	if res.Header.Get("X-Almadle-Mode") != "pixelated" || res.Header.Get("X-Almadle-Small") != "70x50" {
		t.Errorf("image at attempts 5: mode %q small %q", res.Header.Get("X-Almadle-Mode"), res.Header.Get("X-Almadle-Small"))
	}
	if bytes.Equal(body, h.images[target.ID]) {
		t.Error("original released while playing")
	}

	g := h.mustGuess(target.ID)
	if g.State != game.StateWon || g.Attempts != 6 {
		t.Fatalf("winning guess = %+v", g)
	}
	if g.Target == nil || g.Target.Name != target.Name {
		t.Errorf("target not revealed: %+v", g.Target)
	}

	res, body = h.get("/api/game/image")
	if res.StatusCode != http.StatusOK || res.Header.Get("X-Almadle-Mode") != "original" {
		t.Fatalf("image after win: %d mode %q", res.StatusCode, res.Header.Get("X-Almadle-Mode"))
	}
	if !bytes.Equal(body, h.images[target.ID]) {
		t.Error("expected original bytes after win")
	}
	if res.Header.Get("Content-Type") != "image/png" || res.Header.Get("X-Almadle-PixelFactor") != "" {
		t.Errorf("original headers: %v", res.Header)
	}

	code, st := h.state()
	if code != http.StatusOK || st.Seed != "abc" || st.Target == nil || st.Target.ID != target.ID {
		t.Errorf("state after win = %d %+v", code, st)
	}
}

func TestLossFlowAndFrozenRound(t *testing.T) {
	h := newHarness(t)
	target := h.sel.ForToken("lose-me")
	h.start("?mode=seeded&seed=lose-me")

	wrong := h.wrongIDs(target.ID, 7)
	for i, id := range wrong[:6] {
		g := h.mustGuess(id)
		if g.Attempts != i+1 {
			t.Fatalf("attempts = %d, want %d", g.Attempts, i+1)
		}
		if i < 5 && g.State != game.StatePlaying {
			t.Fatalf("guess %d ended the round early: %s", i+1, g.State)
		}
	}
	code, st := h.state()
	if code != http.StatusOK || st.State != game.StateLost || st.Attempts != 6 || st.Target == nil {
		t.Fatalf("after six misses = %d %+v", code, st)
	}

	res, body := h.guess(wrong[6])
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seventh guess status %d", res.StatusCode)
	}
	var echo map[string]any
	decodeInto(t, body, &echo)
	if _, scored := echo["guess"]; scored {
		t.Error("seventh guess was scored")
	}
	if echo["state"] != "lost" || echo["attempts"] != float64(6) {
		t.Errorf("seventh guess echo = %v", echo)
	}

	if _, st = h.state(); st.Attempts != 6 || st.State != game.StateLost {
		t.Errorf("frozen round changed: %+v", st)
	}

	res, _ = h.get("/api/game/image")
	if res.Header.Get("X-Almadle-Mode") != "original" {
		t.Error("expected original image after loss")
	}
}

func TestImageIgnoresQuery(t *testing.T) {
	h := newHarness(t)
	h.start("")

	res, body := h.get("/api/game/image?stage=6&attempts=6&state=won")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	hd := res.Header
	if hd.Get("X-Almadle-Mode") != "pixelated" || hd.Get("X-Almadle-Small") != "8x6" || hd.Get("X-Almadle-PixelFactor") != "43" {
		t.Errorf("headers = %v", hd)
	}
	if hd.Get("X-Almadle-Attempts") != "0" || hd.Get("X-Almadle-State") != "playing" {
		t.Errorf("progress headers = %v", hd)
	}
	if hd.Get("Cache-Control") != "no-store" || !strings.Contains(strings.Join(hd.Values("Vary"), ","), "Cookie") {
		t.Errorf("cache headers = %v", hd)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 350 || b.Dy() != 250 {
		t.Errorf("size = %v", b)
	}

	// Same session, same bytes.
	_, again := h.get("/api/game/image")
	if !bytes.Equal(body, again) {
		t.Error("image not reproducible for unchanged session")
	}
}

func TestNoSession(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/game/state", ""},
		{http.MethodGet, "/api/game/image", ""},
		{http.MethodPost, "/api/game/guess", `{"guessId":1}`},
	} {
		res, body := h.do(h.client, tc.method, tc.path, tc.body)
		if res.StatusCode != http.StatusConflict || !strings.Contains(string(body), "no_active_game") {
			t.Errorf("%s %s = %d %s", tc.method, tc.path, res.StatusCode, body)
		}
	}
}

func TestTamperedCookie(t *testing.T) {
	h := newHarness(t)
	h.start("")

	u := h.srv.URL + "/api/game/state"
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	for _, c := range h.client.Jar.Cookies(req.URL) {
		if c.Name == session.CookieName {
			v := []byte(c.Value)
			if v[3] == 'A' {
				v[3] = 'B'
			} else {
				v[3] = 'A'
			}
			req.AddCookie(&http.Cookie{Name: c.Name, Value: string(v)})
		}
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("tampered cookie status = %d", res.StatusCode)
	}
}

func TestGuessWithUnknownTarget(t *testing.T) {
	h := newHarness(t)
	tok, err := h.codec.Encode(session.New(9999, session.ModeRandom, "", h.clock.Now()))
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/game/guess",
		strings.NewReader(fmt.Sprintf(`{"guessId":%d}`, h.cat.At(0).ID)))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: tok})
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(b), "unknown_dish") {
		t.Errorf("guess with unknown target = %d %s", res.StatusCode, b)
	}
	for _, c := range res.Cookies() {
		if c.Name == session.CookieName {
			t.Errorf("session cookie touched: %+v", c)
		}
	}
}

func TestExpiry(t *testing.T) {
	h := newHarness(t)
	h.start("")
	h.clock.Advance(24*time.Hour + time.Minute)

	if res, _ := h.guess(h.cat.At(0).ID); res.StatusCode != http.StatusConflict {
		t.Errorf("guess on expired session = %d", res.StatusCode)
	}
	if res, _ := h.get("/api/game/image"); res.StatusCode != http.StatusConflict {
		t.Errorf("image on expired session = %d", res.StatusCode)
	}
	if st := h.start(""); st.Attempts != 0 || st.State != game.StatePlaying {
		t.Errorf("restart after expiry = %+v", st)
	}
}

func TestStartKeepsOrReplacesRound(t *testing.T) {
	h := newHarness(t)
	target := h.sel.ForToken("keep")
	h.start("?mode=seeded&seed=keep")
	h.mustGuess(h.wrongIDs(target.ID, 1)[0])

	if st := h.start("?mode=seeded&seed=keep"); st.Attempts != 1 {
		t.Errorf("same round restarted: %+v", st)
	}
	if st := h.start(""); st.Attempts != 1 {
		t.Errorf("plain start restarted: %+v", st)
	}
	if st := h.start("?mode=seeded&seed=keep&new=1"); st.Attempts != 0 {
		t.Errorf("new=1 kept round: %+v", st)
	}
	h.mustGuess(h.wrongIDs(target.ID, 1)[0])
	if st := h.start("?mode=seeded&seed=other"); st.Attempts != 0 {
		t.Errorf("different seed kept round: %+v", st)
	}
	if st := h.start("?mode=daily"); st.Mode != session.ModeDaily {
		t.Errorf("mode = %s", st.Mode)
	}
}

func TestDailyMode(t *testing.T) {
	h := newHarness(t)
	target, err := h.sel.DailySeed("20250115")
	if err != nil {
		t.Fatal(err)
	}

	h.start("?mode=daily&date=2025-01-15")
	g := h.mustGuess(target.ID)
	if g.State != game.StateWon || g.Attempts != 1 {
		t.Fatalf("guess = %+v", g)
	}
	if _, st := h.state(); st.Seed != "20250115" || st.Mode != session.ModeDaily {
		t.Errorf("state = %+v", st)
	}

	// Today's round uses the clock's date.
	today := h.sel.Daily(h.clock.Now())
	h.start("?mode=daily")
	if g := h.mustGuess(today.ID); g.State != game.StateWon {
		t.Errorf("today's daily target mismatch: %+v", g)
	}

	for _, q := range []string{"?mode=daily&date=2025-13-01", "?mode=daily&date=yesterday"} {
		res, body := h.get("/api/game/start" + q)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("%s = %d %s", q, res.StatusCode, body)
		}
	}
}

func TestGuessValidation(t *testing.T) {
	h := newHarness(t)
	target := h.sel.ForToken("validate")
	h.start("?mode=seeded&seed=validate")
	wrong := h.wrongIDs(target.ID, 1)[0]

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"non numeric", `{"guessId":"abc"}`, http.StatusBadRequest},
		{"fractional", `{"guessId":1.5}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"unknown dish", `{"guessId":99999}`, http.StatusBadRequest},
		{"numeric string", fmt.Sprintf(`{"guessId":"%d"}`, wrong), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := h.do(h.client, http.MethodPost, "/api/game/guess", tt.body)
			if res.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%s)", res.StatusCode, tt.want, body)
			}
		})
	}
	if _, st := h.state(); st.Attempts != 1 {
		t.Errorf("rejected guesses consumed attempts: %+v", st)
	}
}

func TestModeAndSeedValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct{ query, want string }{
		{"?mode=cheat", "bad_mode"},
		{"?mode=seeded&seed=" + strings.Repeat("x", 65), "bad_seed"},
	}
	for _, tt := range tests {
		res, body := h.get("/api/game/start" + tt.query)
		if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), tt.want) {
			t.Errorf("%s = %d %s", tt.query, res.StatusCode, body)
		}
	}
}

func TestDishesListing(t *testing.T) {
	h := newHarness(t)
	res, body := h.get("/api/dishes")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if strings.Contains(string(body), "image_url") || strings.Contains(string(body), "images/") {
		t.Errorf("image reference leaked: %s", body)
	}
	var dishes []catalog.PublicDish
	decodeInto(t, body, &dishes)
	if len(dishes) != h.cat.Len() {
		t.Errorf("dishes = %d, want %d", len(dishes), h.cat.Len())
	}
}

func TestRawImagesBlocked(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"/images/kippenpasta.png", "/images/", "/images"} {
		if res, _ := h.get(p); res.StatusCode != http.StatusNotFound {
			t.Errorf("%s = %d", p, res.StatusCode)
		}
	}
}

func TestMissingImage(t *testing.T) {
	h := newHarness(t, withoutImages())
	h.start("")
	res, body := h.get("/api/game/image")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d %s", res.StatusCode, body)
	}
}

func TestHealthAndHeaders(t *testing.T) {
	h := newHarness(t)
	res, body := h.get("/health")
	var out struct {
		OK     bool `json:"ok"`
		Dishes int  `json:"dishes"`
	}
	decodeInto(t, body, &out)
	if !out.OK || out.Dishes != h.cat.Len() {
		t.Errorf("health = %+v", out)
	}
	if res.Header.Get("X-Content-Type-Options") != "nosniff" || res.Header.Get("X-Frame-Options") != "DENY" {
		t.Errorf("security headers missing: %v", res.Header)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	h.start("")
	if res, _ := h.do(h.client, http.MethodPost, "/api/game/reset", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("reset = %d", res.StatusCode)
	}
	if code, _ := h.state(); code != http.StatusConflict {
		t.Errorf("state after reset = %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, withLimiter(NewLimiter(0.001, 2, time.Hour)))
	for i := 0; i < 2; i++ {
		if res, _ := h.get("/api/game/start"); res.StatusCode != http.StatusOK {
			t.Fatalf("request %d = %d", i, res.StatusCode)
		}
	}
	res, _ := h.get("/api/game/start")
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third request = %d", res.StatusCode)
	}
	// Reads are not throttled.
	if res, _ := h.get("/api/game/state"); res.StatusCode != http.StatusOK {
		t.Errorf("state = %d", res.StatusCode)
	}
}
