package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("stub", func(cfg map[string]any) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := reg.Create("stub", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p == nil || p.Name() != "stub" {
		t.Fatalf("unexpected provider: %#v", p)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	factory := func(cfg map[string]any) (Provider, error) { return &stubProvider{name: "stub"}, nil }
	_ = reg.Register("stub", factory)

	if err := reg.Register("stub", factory); !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("duplicate Register() = %v, want ErrDuplicateProvider", err)
	}
	if err := reg.Register(" ", factory); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("blank Register() = %v, want ErrInvalidProvider", err)
	}
	if err := reg.Register("nil", nil); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("nil factory Register() = %v, want ErrInvalidProvider", err)
	}
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("Create(missing) = %v, want ErrProviderNotRegistered", err)
	}
}

func TestDefaultRegistry_Builtins(t *testing.T) {
	if diff := cmp.Diff([]string{"env", "file"}, DefaultRegistry.List()); diff != "" {
		t.Errorf("DefaultRegistry.List() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_Resolver(t *testing.T) {
	t.Setenv("RECIPEBOX_TEST_JWT", "s3cret")

	res, err := DefaultRegistry.Resolver(true, nil)
	if err != nil {
		t.Fatalf("Resolver() error = %v", err)
	}
	got, err := res.ResolveValue(context.Background(), "secretref:env:RECIPEBOX_TEST_JWT")
	if err != nil || got != "s3cret" {
		t.Errorf("ResolveValue() = %q, %v", got, err)
	}
}
