package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationIDGeneratedWhenMissing(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var fromContext string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetCorrelationID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if fromContext == "" || fromContext == "unknown" {
		t.Errorf("correlation id not generated, got %q", fromContext)
	}

	if header := w.Header().Get("X-Correlation-ID"); header != fromContext {
		t.Errorf("response header = %q, context = %q, want equal", header, fromContext)
	}
}

func TestCorrelationIDPreserved(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var fromContext string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetCorrelationID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.Header.Set("X-Correlation-ID", "caller-supplied-id")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if fromContext != "caller-supplied-id" {
		t.Errorf("correlation id = %q, want caller-supplied-id", fromContext)
	}
}

func TestGetCorrelationIDWithoutMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if got := GetCorrelationID(context.Background()); got != "unknown" {
		t.Errorf("GetCorrelationID() = %q, want unknown", got)
	}
}

func TestApplyOrdersMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var order []string

	tag := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}),
		tag("first"),
		tag("second"),
	)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	want := []string{"first", "second", "handler"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}
