package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type stubProvider struct {
	name    string
	values  map[string]string
	resolve func(ref string) (string, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	if s.resolve != nil {
		return s.resolve(ref)
	}
	if s.values == nil {
		return "", nil
	}
	return s.values[ref], nil
}

func (s *stubProvider) Close() error { return nil }

func TestParseSecretRef(t *testing.T) {
	provider, ref, ok := ParseSecretRef("secretref:stub:alpha")
	if !ok {
		t.Fatalf("expected secretref to parse")
	}
	if provider != "stub" || ref != "alpha" {
		t.Fatalf("unexpected values: %q %q", provider, ref)
	}

	for _, bad := range []string{"not-a-secretref", "secretref:stub", "secretref::x", "secretref:stub:", "Bearer secretref:stub:alpha"} {
		if _, _, ok := ParseSecretRef(bad); ok {
			t.Errorf("ParseSecretRef(%q) ok = true, want false", bad)
		}
	}
}

func TestResolver_ResolvesFullSecretRef(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"alpha": "one"}})

	got, err := r.ResolveValue(context.Background(), "secretref:stub:alpha")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "one" {
		t.Fatalf("ResolveValue() = %q, want %q", got, "one")
	}
}

func TestResolver_ResolvesInlineSecretRef(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"beta": "two"}})

	got, err := r.ResolveValue(context.Background(), "Bearer secretref:stub:beta")
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if got != "Bearer two" {
		t.Fatalf("ResolveValue() = %q, want %q", got, "Bearer two")
	}
}

func TestResolver_StrictEmptyProviderValueErrors(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"empty": ""}})

	_, err := r.ResolveValue(context.Background(), "secretref:stub:empty")
	if !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("ResolveValue() error = %v, want ErrEmptySecret", err)
	}

	lenient := NewResolver(false, &stubProvider{name: "stub", values: map[string]string{"empty": ""}})
	if got, err := lenient.ResolveValue(context.Background(), "secretref:stub:empty"); err != nil || got != "" {
		t.Fatalf("lenient ResolveValue() = %q, %v", got, err)
	}
}

func TestResolver_UnknownProvider(t *testing.T) {
	r := NewResolver(true)
	_, err := r.ResolveValue(context.Background(), "secretref:vault:jwt")
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("ResolveValue() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestResolver_ExpandsEnvBeforeRefs(t *testing.T) {
	t.Setenv("RECIPEBOX_TEST_KEY", "alpha")
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"alpha": "one"}})

	got, err := r.ResolveValue(context.Background(), "secretref:stub:${RECIPEBOX_TEST_KEY}")
	if err != nil || got != "one" {
		t.Fatalf("ResolveValue() = %q, %v", got, err)
	}
}

func TestResolver_NilExpandsOnly(t *testing.T) {
	var r *Resolver
	got, err := r.ResolveValue(context.Background(), "plain")
	if err != nil || got != "plain" {
		t.Fatalf("ResolveValue() = %q, %v", got, err)
	}
}

func TestResolver_ResolveSlice(t *testing.T) {
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{"alpha": "one"}})

	in := []string{"a", "secretref:stub:alpha", "x-secretref:stub:alpha"}
	got, err := r.ResolveSlice(context.Background(), in)
	if err != nil {
		t.Fatalf("ResolveSlice() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "one", "x-one"}, got); diff != "" {
		t.Errorf("ResolveSlice() mismatch (-want +got):\n%s", diff)
	}
	if in[1] != "secretref:stub:alpha" {
		t.Error("ResolveSlice() modified its input")
	}

	if _, err := r.ResolveSlice(context.Background(), []string{"ok", "secretref:nope:x"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("ResolveSlice() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestResolver_InlineStopsAtFirstError(t *testing.T) {
	calls := 0
	r := NewResolver(true, &stubProvider{name: "stub", resolve: func(string) (string, error) {
		calls++
		return "", errors.New("unavailable")
	}})

	if _, err := r.ResolveValue(context.Background(), "a=secretref:stub:a b=secretref:stub:b"); err == nil {
		t.Fatal("ResolveValue() error = nil, want provider error")
	}
	if calls != 1 {
		t.Errorf("provider called %d times, want 1", calls)
	}
}

func TestResolver_Close(t *testing.T) {
	closed := &closingProvider{stubProvider: stubProvider{name: "stub"}}
	r := NewResolver(true, closed)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !closed.closed {
		t.Error("provider not closed")
	}

	var nilResolver *Resolver
	if err := nilResolver.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

type closingProvider struct {
	stubProvider
	closed bool
}

func (c *closingProvider) Close() error {
	c.closed = true
	return nil
}

func TestResolver_ProviderResolveErrorPropagates(t *testing.T) {
	boom := errors.New("explode")
	r := NewResolver(true, &stubProvider{name: "stub", resolve: func(ref string) (string, error) {
		if ref == "boom" {
			return "", boom
		}
		return "ok", nil
	}})

	_, err := r.ResolveValue(context.Background(), "secretref:stub:boom")
	if !errors.Is(err, boom) {
		t.Fatalf("ResolveValue() error = %v, want wrapped provider error", err)
	}
}
