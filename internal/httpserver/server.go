// internal/httpserver/server.go
//
// HTTP server wiring for the Almadle backend.
// Responsibilities:
//   - Router + middleware (request IDs, access log, panic recovery, timeouts,
//     security headers, JSON content type, optional CORS).
//   - Public endpoints: "/", "/health", "/api/dishes".
//   - Game endpoints: mounted under /api/game (see routes_game.go).
//   - Raw image paths (/images/*) are never served; photos only leave the
//     server through /api/game/image.
//
// Notes:
//   - No per-game state lives here. The signed session cookie is the game;
//     shared state is the read-only catalog and the rate limiter table.
//   - CORS is only installed when a client origin is configured, and then it
//     is credentials-enabled so the session cookie travels.

package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/almadle/internal/catalog"
	"github.com/robalobadob/almadle/internal/imagestore"
	"github.com/robalobadob/almadle/internal/selector"
	"github.com/robalobadob/almadle/internal/session"
)

// Deps are the collaborators a Server needs.
type Deps struct {
	Catalog  *catalog.Catalog
	Selector *selector.Selector
	Sessions session.Transport
	Images   imagestore.Store

	// Limiter throttles game-mutating endpoints per client; nil disables it.
	Limiter *Limiter
	// ClientOrigin enables credentialed CORS for one origin when set.
	ClientOrigin string
	// RequestTimeout bounds handler time; zero means 10s.
	RequestTimeout time.Duration
}

// Server bundles the router and its read-only dependencies.
type Server struct {
	r        *chi.Mux
	cat      *catalog.Catalog
	sel      *selector.Selector
	sessions session.Transport
	images   imagestore.Store
	limiter  *Limiter
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		cat:      d.Catalog,
		sel:      d.Selector,
		sessions: d.Sessions,
		images:   d.Images,
		limiter:  d.Limiter,
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)               // add X-Request-ID
	s.r.Use(chimw.RealIP)                  // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(hlog.NewHandler(log.Logger))   // request-scoped logger
	s.r.Use(requestIDLogField)             // carry chi's request id in every line
	s.r.Use(hlog.AccessHandler(accessLog)) // one line per request
	s.r.Use(chimw.Recoverer)               // recover from panics
	s.r.Use(chimw.Timeout(timeout))        // bound handler time
	s.r.Use(securityHeaders)
	s.r.Use(jsonContentType) // default JSON responses
	if d.ClientOrigin != "" {
		s.r.Use(cors(d.ClientOrigin))
	}

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":   "almadle",
			"endpoints": []string{"/health", "/api/dishes", "/api/game/start", "/api/game/state", "POST /api/game/guess", "/api/game/image", "POST /api/game/reset"},
		})
	})
	s.r.Get("/health", s.handleHealth)

	s.r.Get("/api/dishes", s.handleDishes)
	s.r.Route("/api/game", s.mountGame)

	// Photos are only reachable through the disclosure endpoint.
	s.r.Handle("/images", http.HandlerFunc(notFound))
	s.r.Handle("/images/*", http.HandlerFunc(notFound))

	s.r.NotFound(notFound)
	s.r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "dishes": s.cat.Len()})
}

// handleDishes lists every dish without its image reference.
func (s *Server) handleDishes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cat.Public())
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// securityHeaders applies the static response hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for a single origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Almadle-Mode, X-Almadle-State, X-Almadle-Attempts, X-Almadle-PixelFactor, X-Almadle-Small")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestIDLogField adds chi's request id to the request-scoped logger.
func requestIDLogField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, dur time.Duration) {
	ev := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Warn()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", dur).
		Msg("request")
}

// ------------------------------- responses ---------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// writeError writes {"error": code}. Codes are fixed strings; internal error
// text is never echoed.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found")
}
