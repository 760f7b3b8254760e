package stash

import (
	"testing"

	"goflare.io/stash/config"
)

func TestFallbackForPicksLongestMatch(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Offline.Fallbacks = map[string]any{
		"/api/":                      "generic-api",
		"/api/community/leaderboard": "leaderboard",
	}
	s := &Stash{cfg: cfg}

	if got := s.fallbackFor("/api/community/leaderboard"); got != "leaderboard" {
		t.Errorf("fallbackFor = %v, want leaderboard dataset", got)
	}
	if got := s.fallbackFor("/api/meals/today"); got != "generic-api" {
		t.Errorf("fallbackFor = %v, want generic-api dataset", got)
	}
}

func TestFallbackForAlwaysReturnsData(t *testing.T) {
	cfg := config.NewConfig()
	s := &Stash{cfg: cfg}

	// Even an unknown endpoint must yield non-null cached_data.
	if got := s.fallbackFor("/api/unknown/endpoint"); got == nil {
		t.Errorf("fallbackFor returned nil for unknown endpoint")
	}
}

func TestDefaultFallbacksCoverCoreEndpoints(t *testing.T) {
	fallbacks := defaultFallbacks()
	for _, path := range []string{
		"/api/nutrition",
		"/api/community/leaderboard",
		"/api/challenges/weekly",
		"/api/chat",
	} {
		if _, ok := fallbacks[path]; !ok {
			t.Errorf("missing default fallback for %s", path)
		}
	}
}
