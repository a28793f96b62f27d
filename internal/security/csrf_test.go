package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestCSRFMiddlewareBlocksMissingToken(t *testing.T) {
	csrf := CSRF{}
	handler := csrf.Middleware(okHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareAllowsValidToken(t *testing.T) {
	csrf := CSRF{Header: "X-CSRF-Token", Cookie: "csrf"}
	handler := csrf.Middleware(okHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	token := "secure-token"
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(&http.Cookie{Name: "csrf", Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareRejectsMismatch(t *testing.T) {
	handler := CSRF{}.Middleware(okHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	req.Header.Set(defaultCSRFHeader, "secure-token")
	req.AddCookie(&http.Cookie{Name: defaultCSRFCookie, Value: "secure-tokeN"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched token, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareRequiresXHR(t *testing.T) {
	handler := CSRF{RequireXHR: true}.Middleware(okHandler(http.StatusAccepted))

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	req.Header.Set(defaultCSRFHeader, "t")
	req.AddCookie(&http.Cookie{Name: defaultCSRFCookie, Value: "t"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without X-Requested-With, got %d", rr.Code)
	}

	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for xhr request, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareSkipsSafeMethods(t *testing.T) {
	handler := CSRF{RequireXHR: true}.Middleware(okHandler(http.StatusOK))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected GET to pass, got %d", rr.Code)
	}
}

func TestCSRFIssueReusesCookie(t *testing.T) {
	csrf := CSRF{}
	rr := httptest.NewRecorder()
	token := csrf.Issue(rr, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	if token == "" {
		t.Fatal("expected a token")
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != token || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	if again := csrf.Issue(rr, req); again != token {
		t.Fatalf("expected token reuse, got %q", again)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie")
	}
}
