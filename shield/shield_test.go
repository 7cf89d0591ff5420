package shield_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/vorschau/shield"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := shield.SecurityHeaders(shield.DefaultHeaders())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	hdr := rec.Header()
	if got := hdr.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
	if got := hdr.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	csp := hdr.Get("Content-Security-Policy")
	if !strings.Contains(csp, "default-src 'none'") || !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Fatalf("CSP = %q", csp)
	}
}

func TestHeadToGet(t *testing.T) {
	var sawMethod string
	h := shield.HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if sawMethod != http.MethodGet {
		t.Fatalf("method = %q", sawMethod)
	}
}

func TestMaxFormBodyLimitsForms(t *testing.T) {
	h := shield.MaxFormBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=123456789012345678901234567890"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTraceIDSetsHeaderAndLogger(t *testing.T) {
	h := shield.TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shield.GetLogger(r.Context()) == nil {
			t.Error("no per-request logger")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Trace-ID"); len(got) != 8 {
		t.Fatalf("X-Trace-ID = %q", got)
	}
}
