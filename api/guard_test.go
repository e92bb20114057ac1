package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jonwraymond/recipebox/health"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

var errDiskIO = errors.New("disk I/O error")

// flakyStore fails listing reads a set number of times. Other methods
// come from the embedded store.
type flakyStore struct {
	store.Store
	failures   int
	listCalls  int
	writeCalls int
}

func (f *flakyStore) ListRecipes(ctx context.Context, page store.Page) (store.RecipePage, error) {
	f.listCalls++
	if f.listCalls <= f.failures {
		return store.RecipePage{}, errDiskIO
	}
	return store.RecipePage{Total: 7}, nil
}

func (f *flakyStore) CreateRecipe(ctx context.Context, in store.RecipeInput) (store.Recipe, error) {
	f.writeCalls++
	return store.Recipe{}, errDiskIO
}

func (f *flakyStore) RecipeByID(ctx context.Context, id string) (store.Recipe, error) {
	return store.Recipe{}, fmt.Errorf("recipe %s: %w", id, store.ErrNotFound)
}

func TestIsStoreFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("recipe x: %w", store.ErrNotFound), false},
		{store.ErrDuplicateUser, false},
		{store.ErrInvalidRecipe, false},
		{errDiskIO, true},
		{resilience.ErrTimeout, true},
	}
	for _, tt := range tests {
		if got := isStoreFailure(tt.err); got != tt.want {
			t.Errorf("isStoreFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGuardedStore_RetriesReads(t *testing.T) {
	flaky := &flakyStore{failures: 2}
	g := NewGuardedStore(flaky, GuardConfig{Timeout: time.Second, ReadAttempts: 3, MaxFailures: 5})

	page, err := g.ListRecipes(context.Background(), store.Page{Number: 1, Size: 10})
	if err != nil || page.Total != 7 {
		t.Fatalf("ListRecipes() = %+v, %v", page, err)
	}
	if flaky.listCalls != 3 {
		t.Errorf("list calls = %d, want 3", flaky.listCalls)
	}
}

func TestGuardedStore_DoesNotRetryWrites(t *testing.T) {
	flaky := &flakyStore{}
	g := NewGuardedStore(flaky, GuardConfig{Timeout: time.Second, ReadAttempts: 3, MaxFailures: 5})

	if _, err := g.CreateRecipe(context.Background(), store.RecipeInput{}); !errors.Is(err, errDiskIO) {
		t.Fatalf("CreateRecipe() = %v", err)
	}
	if flaky.writeCalls != 1 {
		t.Errorf("write calls = %d, want 1", flaky.writeCalls)
	}
}

func TestGuardedStore_NotFoundKeepsCircuitClosed(t *testing.T) {
	g := NewGuardedStore(&flakyStore{}, GuardConfig{Timeout: time.Second, ReadAttempts: 1, MaxFailures: 1})

	for i := 0; i < 3; i++ {
		if _, err := g.RecipeByID(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("RecipeByID() = %v", err)
		}
	}
	if g.Breaker().State() != resilience.StateClosed {
		t.Errorf("State = %v after not-found answers", g.Breaker().State())
	}
}

func TestGuardedStore_OpenCircuit(t *testing.T) {
	var transitions []string
	flaky := &flakyStore{failures: 100}
	g := NewGuardedStore(flaky, GuardConfig{
		Timeout:      time.Second,
		ReadAttempts: 1,
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		OnStateChange: func(name string, from, to resilience.State) {
			transitions = append(transitions, name+":"+to.String())
		},
	})

	if result := g.Checker().Check(context.Background()); result.Status != health.StatusHealthy {
		t.Errorf("closed circuit status = %v", result.Status)
	}

	_, _ = g.ListRecipes(context.Background(), store.Page{})
	_, err := g.ListRecipes(context.Background(), store.Page{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("ListRecipes() = %v, want ErrCircuitOpen", err)
	}
	if flaky.listCalls != 1 {
		t.Errorf("list calls = %d, want the open circuit to shed the second", flaky.listCalls)
	}
	if len(transitions) != 1 || transitions[0] != "store:open" {
		t.Errorf("transitions = %v", transitions)
	}

	result := g.Checker().Check(context.Background())
	if result.Status != health.StatusDegraded || result.Details["state"] != "open" {
		t.Errorf("open circuit check = %+v", result)
	}
}

func TestServer_OpenCircuitIs503AndNotCached(t *testing.T) {
	flaky := &flakyStore{failures: 100}
	ts := newTestServer(t, func(c *Config) {
		flaky.Store = c.Store
		c.Store = NewGuardedStore(flaky, GuardConfig{Timeout: time.Second, ReadAttempts: 1, MaxFailures: 1, ResetTimeout: time.Hour})
	})

	if rec := ts.do(t, http.MethodGet, "/recipes", nil, ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("first status = %d, want 500", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/recipes", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("second status = %d, want 503", rec.Code)
	}
	if errorOf(t, rec) != "service temporarily unavailable" {
		t.Errorf("error = %q", errorOf(t, rec))
	}
	if ts.cache.Len() != 0 {
		t.Errorf("cache holds %d entries after failures", ts.cache.Len())
	}
}
