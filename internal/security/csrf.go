package security

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/signer"
)

const (
	defaultCSRFHeader = "X-CSRF-Token"
	defaultCSRFCookie = "autosms_csrf"
)

// CSRF protects browser flows with the double-submit technique: the page
// embeds a token that must come back in a header matching the cookie.
type CSRF struct {
	Header string
	Cookie string
	// RequireXHR additionally demands X-Requested-With: XMLHttpRequest.
	RequireXHR bool
	Secure     bool
}

func (c CSRF) headerName() string {
	if h := strings.TrimSpace(c.Header); h != "" {
		return h
	}
	return defaultCSRFHeader
}

func (c CSRF) cookieName() string {
	if n := strings.TrimSpace(c.Cookie); n != "" {
		return n
	}
	return defaultCSRFCookie
}

// Issue returns the request's token, minting one and setting the cookie when
// the request has none.
func (c CSRF) Issue(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(c.cookieName()); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value
	}
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// Middleware enforces that non-idempotent requests include a CSRF token header matching a cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := c.headerName()
	cookieName := c.cookieName()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions || method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		if c.RequireXHR && r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			common.JSONError(w, http.StatusForbidden, "CSRF", "missing X-Requested-With header", nil)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF", "missing csrf token", nil)
			return
		}

		cookie, err := r.Cookie(cookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF", "missing csrf cookie", nil)
			return
		}

		if !signer.ConstantTimeEqual(token, cookie.Value) {
			common.JSONError(w, http.StatusForbidden, "CSRF", "invalid csrf token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
