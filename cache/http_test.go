package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newRecipeHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "recipe not found", http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"path":%q,"query":%q,"served":%d}`, r.URL.Path, r.URL.RawQuery, n)
		}
	})
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func listingRoute() Route {
	return Route{
		Class: ClassListing,
		Tags:  func(*http.Request) []string { return []string{TagRecipeListing} },
	}
}

func TestHandler_HitMatchesMiss(t *testing.T) {
	var calls atomic.Int32
	m := NewInterposer(NewMemoryCache(DefaultPolicy()), DefaultPolicy(), nil)
	h := m.Handler(NewDefaultKeyer(), listingRoute(), newRecipeHandler(&calls))

	miss := doRequest(t, h, http.MethodGet, "/recipes?page=1&limit=50")
	hit := doRequest(t, h, http.MethodGet, "/recipes?page=1&limit=50")

	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
	if miss.Code != hit.Code {
		t.Errorf("status miss=%d hit=%d", miss.Code, hit.Code)
	}
	if miss.Header().Get("Content-Type") != hit.Header().Get("Content-Type") {
		t.Errorf("content type miss=%q hit=%q", miss.Header().Get("Content-Type"), hit.Header().Get("Content-Type"))
	}
	if miss.Body.String() != hit.Body.String() {
		t.Errorf("body miss=%q hit=%q", miss.Body.String(), hit.Body.String())
	}
}

func TestHandler_QueryOrderIsDistinct(t *testing.T) {
	var calls atomic.Int32
	m := NewInterposer(NewMemoryCache(DefaultPolicy()), DefaultPolicy(), nil)
	h := m.Handler(NewDefaultKeyer(), listingRoute(), newRecipeHandler(&calls))

	doRequest(t, h, http.MethodGet, "/recipes?page=1&limit=50")
	doRequest(t, h, http.MethodGet, "/recipes?limit=50&page=1")
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}

	calls.Store(0)
	m = NewInterposer(NewMemoryCache(DefaultPolicy()), DefaultPolicy(), nil)
	h = m.Handler(NewNormalizingKeyer(), listingRoute(), newRecipeHandler(&calls))
	doRequest(t, h, http.MethodGet, "/recipes?page=1&limit=50")
	doRequest(t, h, http.MethodGet, "/recipes?limit=50&page=1")
	if calls.Load() != 1 {
		t.Errorf("normalizing keyer: handler called %d times, want 1", calls.Load())
	}
}

func TestHandler_ErrorResponsesNotCached(t *testing.T) {
	for _, path := range []string{"/missing", "/broken"} {
		t.Run(path, func(t *testing.T) {
			var calls atomic.Int32
			cache := NewMemoryCache(DefaultPolicy())
			m := NewInterposer(cache, DefaultPolicy(), nil)
			h := m.Handler(NewDefaultKeyer(), Route{Class: ClassItem}, newRecipeHandler(&calls))

			first := doRequest(t, h, http.MethodGet, path)
			second := doRequest(t, h, http.MethodGet, path)

			if calls.Load() != 2 {
				t.Errorf("handler called %d times, want 2", calls.Load())
			}
			if first.Code < 400 || first.Code != second.Code {
				t.Errorf("status first=%d second=%d, want matching error status", first.Code, second.Code)
			}
			if cache.Len() != 0 {
				t.Errorf("cache holds %d entries, want 0", cache.Len())
			}
		})
	}
}

func TestHandler_WritesBypass(t *testing.T) {
	var calls atomic.Int32
	cache := NewMemoryCache(DefaultPolicy())
	m := NewInterposer(cache, DefaultPolicy(), nil)
	h := m.Handler(NewDefaultKeyer(), listingRoute(), newRecipeHandler(&calls))

	doRequest(t, h, http.MethodPost, "/recipes")
	doRequest(t, h, http.MethodPost, "/recipes")
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
	if cache.Len() != 0 {
		t.Errorf("cache holds %d entries after writes, want 0", cache.Len())
	}
}

func TestHandler_BypassEquivalence(t *testing.T) {
	var cachedCalls, directCalls atomic.Int32
	m := NewInterposer(NewMemoryCache(DefaultPolicy()), DefaultPolicy(), nil)
	cached := m.Handler(NewDefaultKeyer(), listingRoute(), newRecipeHandler(&cachedCalls))
	direct := newRecipeHandler(&directCalls)

	got := doRequest(t, cached, http.MethodGet, "/recipes/r1")
	want := doRequest(t, direct, http.MethodGet, "/recipes/r1")

	if got.Code != want.Code || got.Body.String() != want.Body.String() {
		t.Errorf("cached response (%d %q) differs from direct (%d %q)", got.Code, got.Body.String(), want.Code, want.Body.String())
	}
}

func TestHandler_CorruptPayloadFallsThrough(t *testing.T) {
	var calls atomic.Int32
	cache := NewMemoryCache(DefaultPolicy())
	m := NewInterposer(cache, DefaultPolicy(), nil)
	h := m.Handler(NewDefaultKeyer(), Route{Class: ClassItem}, newRecipeHandler(&calls))

	_ = cache.Set(context.Background(), "/recipes/r1", []byte("garbage"), DefaultPolicy().TTL(ClassItem))

	rec := doRequest(t, h, http.MethodGet, "/recipes/r1")
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || calls.Load() != 1 {
		t.Errorf("status=%d calls=%d, want 200 and 1", rec.Code, calls.Load())
	}
	if len(body) == 0 {
		t.Error("expected a fresh body")
	}
	if _, ok := cache.Get(context.Background(), "/recipes/r1"); ok {
		t.Error("corrupt entry should have been removed")
	}
}

func TestDecodeResponse(t *testing.T) {
	rec := newResponseRecorder()
	rec.header.Set("Content-Type", "application/json; charset=utf-8")
	rec.WriteHeader(http.StatusCreated)
	_, _ = rec.Write([]byte("line1\nline2"))

	got, err := decodeResponse(rec.encode())
	if err != nil {
		t.Fatalf("decodeResponse failed: %v", err)
	}
	if got.statusCode() != http.StatusCreated {
		t.Errorf("status = %d, want %d", got.statusCode(), http.StatusCreated)
	}
	if ct := got.header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if got.body.String() != "line1\nline2" {
		t.Errorf("body = %q", got.body.String())
	}

	for _, bad := range []string{"", "no newline", "abc text/plain\nbody"} {
		if _, err := decodeResponse([]byte(bad)); err == nil {
			t.Errorf("decodeResponse(%q) should fail", bad)
		}
	}
}
