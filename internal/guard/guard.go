// Package guard decides, once per navigation, whether a request may reach its
// view. The decision depends only on the requested path and the presence of
// the server-issued credential cookie; the cached profile in the session
// store is deliberately never consulted, since only the cookie is validated
// server-side.
package guard

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ReturnToParam carries the originally requested path through the login
// redirect.
const ReturnToParam = "from"

// Config holds the guard policy. Zero values select the defaults below.
type Config struct {
	// Protected and AuthOnly are path prefixes; anything else is public.
	Protected []string
	AuthOnly  []string

	// CookieName is the credential marker cookie checked for presence.
	CookieName string

	LoginPath   string
	LandingPath string

	// APIOrigin is the remote API origin allowed by the content security
	// policy on protected pages.
	APIOrigin string
}

// Guard evaluates the access policy as a middleware.
type Guard struct {
	cfg Config
	csp string
	log zerolog.Logger
}

// New creates a guard, filling in policy defaults.
func New(cfg Config, log zerolog.Logger) *Guard {
	if len(cfg.Protected) == 0 {
		cfg.Protected = []string{"/dashboard"}
	}
	if len(cfg.AuthOnly) == 0 {
		cfg.AuthOnly = []string{"/login"}
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "access_token"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/dashboard"
	}

	return &Guard{
		cfg: cfg,
		csp: contentSecurityPolicy(cfg.APIOrigin),
		log: log,
	}
}

type outcome int

const (
	allow outcome = iota
	allowHardened
	redirectLogin
	redirectLanding
)

// Middleware applies the policy before the wrapped handler runs.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch g.evaluate(r) {
		case allowHardened:
			g.harden(w)
			next.ServeHTTP(w, r)
		case redirectLogin:
			g.redirectToLogin(w, r)
		case redirectLanding:
			g.log.Debug().Str("path", r.URL.Path).Msg("authenticated user on auth page, redirecting to landing")
			http.Redirect(w, r, g.cfg.LandingPath, http.StatusFound)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// evaluate is a total function of (path class, marker presence). Any panic
// during evaluation fails closed: protected paths redirect to login, nothing
// ever passes through open.
func (g *Guard) evaluate(r *http.Request) (result outcome) {
	// Until the path has been classified, assume protected so that a failure
	// mid-evaluation can only fail closed.
	isProtected := true

	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error().Interface("error", rec).Msg("guard evaluation failed")
			if isProtected {
				result = redirectLogin
			} else {
				result = allow
			}
		}
	}()

	path := r.URL.Path
	isProtected = hasPrefix(path, g.cfg.Protected)
	marker := g.markerPresent(r)

	switch {
	case hasPrefix(path, g.cfg.AuthOnly) && marker:
		return redirectLanding
	case isProtected && !marker:
		return redirectLogin
	case isProtected:
		return allowHardened
	default:
		return allow
	}
}

// markerPresent checks the cookie for a non-empty value. The value itself is
// opaque and never inspected.
func (g *Guard) markerPresent(r *http.Request) bool {
	cookie, err := r.Cookie(g.cfg.CookieName)
	return err == nil && cookie.Value != ""
}

func (g *Guard) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	// On the closed-failure path the URL may be the very thing that broke;
	// http.Redirect reads r.URL.Path itself, so answer directly with no
	// return path.
	if r.URL == nil {
		g.log.Debug().Msg("request without URL, redirecting to login")
		w.Header().Set("Location", g.cfg.LoginPath)
		w.WriteHeader(http.StatusFound)
		return
	}

	g.log.Debug().Str("path", r.URL.Path).Msg("no credential marker, redirecting to login")

	q := url.Values{}
	q.Set(ReturnToParam, r.URL.Path)
	http.Redirect(w, r, g.cfg.LoginPath+"?"+q.Encode(), http.StatusFound)
}

// harden attaches the fixed response headers served with protected pages.
func (g *Guard) harden(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	h.Set("Content-Security-Policy", g.csp)
}

func contentSecurityPolicy(apiOrigin string) string {
	connectSrc := "'self'"
	if apiOrigin != "" {
		connectSrc += " " + apiOrigin
	}
	return fmt.Sprintf(
		"default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src %s; font-src 'self'; object-src 'none'; media-src 'self'; frame-src 'none';",
		connectSrc,
	)
}

func hasPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
