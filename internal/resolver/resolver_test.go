package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/services"
)

var errCacheMiss = errors.New("key not found")

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Korzinka   Market!! ", "KORZINKA MARKET"},
		{"Yandex.Taxi", "YANDEX TAXI"},
		{"café-ok", "CAF OK"},
		{"already UPPER", "ALREADY UPPER"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testResolver(t *testing.T, cache services.CacheService) *Resolver {
	t.Helper()
	model := services.NewModelClient(config.ModelConfig{})
	r := New(nil, model, cache, 0.75)
	r.mappings = []mapping{
		{id: 1, normalized: "KORZINKA MARKET", applicationName: "Korzinka", isP2P: false},
		{id: 2, normalized: "YANDEX TAXI", applicationName: "Yandex Go", isP2P: false},
		{id: 3, normalized: "P2P TRANSFER", applicationName: "Humo P2P", isP2P: true},
	}
	return r
}

func TestResolve_ExactMatch(t *testing.T) {
	r := testResolver(t, nil)
	got := r.Resolve(context.Background(), "Korzinka Market", "")

	if got.MatchType != MatchExact {
		t.Errorf("MatchType = %v, want MatchExact", got.MatchType)
	}
	if got.ApplicationName == nil || *got.ApplicationName != "Korzinka" {
		t.Errorf("ApplicationName = %v, want Korzinka", got.ApplicationName)
	}
}

func TestResolve_SubstringMatch(t *testing.T) {
	r := testResolver(t, nil)
	got := r.Resolve(context.Background(), "KORZINKA MARKET BRANCH 42", "")

	if got.MatchType != MatchSubstring {
		t.Errorf("MatchType = %v, want MatchSubstring", got.MatchType)
	}
	if got.ApplicationName == nil || *got.ApplicationName != "Korzinka" {
		t.Errorf("ApplicationName = %v, want Korzinka", got.ApplicationName)
	}
}

func TestResolve_NoMatchWithoutModelFallsBackToP2PHeuristic(t *testing.T) {
	r := testResolver(t, nil)
	got := r.Resolve(context.Background(), "SOME P2P OPERATOR", "")

	if got.MatchType != MatchNone {
		t.Errorf("MatchType = %v, want MatchNone", got.MatchType)
	}
	if !got.IsP2P {
		t.Error("expected IsP2P heuristic to detect P2P substring in the raw operator")
	}
	if got.ApplicationName != nil {
		t.Errorf("ApplicationName = %v, want nil on a full miss", got.ApplicationName)
	}
}

// fakeCache is an in-memory stand-in for services.CacheService, letting
// Resolve's cache-hit path be tested without a Redis/memory backend.
type fakeCache struct {
	store map[string]cachedModelResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]cachedModelResult)}
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	v, ok := f.store[key]
	if !ok {
		return errCacheMiss
	}
	ptr, ok := dest.(*cachedModelResult)
	if !ok {
		return errCacheMiss
	}
	*ptr = v
	return nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	v, ok := value.(cachedModelResult)
	if !ok {
		return errCacheMiss
	}
	f.store[key] = v
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeCache) Close() error                                 { return nil }

func TestResolve_CacheHitSkipsModelCall(t *testing.T) {
	cache := newFakeCache()
	normalized := Normalize("UNKNOWN WALLET SERVICE")
	cache.store[services.GenerateOperatorCacheKey(normalized)] = cachedModelResult{
		ApplicationName: "Wallet App",
		IsP2P:           false,
		Matched:         true,
	}

	model := services.NewModelClient(config.ModelConfig{APIKey: "unused-never-called"})
	r := New(nil, model, cache, 0.75)

	got := r.Resolve(context.Background(), "UNKNOWN WALLET SERVICE", "")
	if got.MatchType != MatchModel {
		t.Errorf("MatchType = %v, want MatchModel (from cache)", got.MatchType)
	}
	if got.ApplicationName == nil || *got.ApplicationName != "Wallet App" {
		t.Errorf("ApplicationName = %v, want Wallet App", got.ApplicationName)
	}
}

func TestResolve_NegativeCacheHitSkipsModelCall(t *testing.T) {
	cache := newFakeCache()
	normalized := Normalize("TOTALLY UNKNOWN OPERATOR")
	cache.store[services.GenerateOperatorCacheKey(normalized)] = cachedModelResult{Matched: false}

	model := services.NewModelClient(config.ModelConfig{APIKey: "unused-never-called"})
	r := New(nil, model, cache, 0.75)

	got := r.Resolve(context.Background(), "TOTALLY UNKNOWN OPERATOR", "")
	if got.MatchType != MatchNone {
		t.Errorf("MatchType = %v, want MatchNone", got.MatchType)
	}
	if got.ApplicationName != nil {
		t.Errorf("ApplicationName = %v, want nil", got.ApplicationName)
	}
}
