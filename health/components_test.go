package health

import (
	"context"
	"errors"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixedSizer int

func (s fixedSizer) Len() int { return int(s) }

func TestStoreChecker(t *testing.T) {
	errLocked := errors.New("database is locked")
	tests := []struct {
		name    string
		store   Pinger
		want    Status
		wantErr error
	}{
		{"reachable", pingFunc(func(context.Context) error { return nil }), StatusHealthy, nil},
		{"ping fails", pingFunc(func(context.Context) error { return errLocked }), StatusUnhealthy, errLocked},
		{"no store", nil, StatusUnhealthy, ErrNilComponent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewStoreChecker(tt.store)
			if checker.Name() != "store" {
				t.Errorf("Name() = %q, want store", checker.Name())
			}
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Status = %v, want %v", result.Status, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("Error = %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestStoreChecker_WrapsCheckFailed(t *testing.T) {
	checker := NewStoreChecker(pingFunc(func(context.Context) error { return errors.New("closed") }))
	if result := checker.Check(context.Background()); !errors.Is(result.Error, ErrCheckFailed) {
		t.Errorf("Error = %v, want it to wrap %v", result.Error, ErrCheckFailed)
	}
}

func TestCacheChecker(t *testing.T) {
	tests := []struct {
		name    string
		cache   Sizer
		warn    int
		want    Status
		entries any
	}{
		{"empty", fixedSizer(0), 100, StatusHealthy, 0},
		{"below threshold", fixedSizer(99), 100, StatusHealthy, 99},
		{"at threshold", fixedSizer(100), 100, StatusDegraded, 100},
		{"no threshold", fixedSizer(1_000_000), 0, StatusHealthy, 1_000_000},
		{"disabled", nil, 100, StatusDegraded, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCacheChecker(tt.cache, CacheCheckerConfig{WarnEntries: tt.warn})
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("Status = %v, want %v", result.Status, tt.want)
			}
			if tt.entries != nil && result.Details["entries"] != tt.entries {
				t.Errorf("Details[entries] = %v, want %v", result.Details["entries"], tt.entries)
			}
		})
	}
}

func TestCacheChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := NewCacheChecker(fixedSizer(1), CacheCheckerConfig{}).Check(ctx)
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want StatusUnhealthy", result.Status)
	}
}
