package stash

import (
	"net/http"
	"strings"

	"goflare.io/stash/config"
)

// rule pairs a request predicate with the strategy it selects. Rules
// are evaluated in order; the first match wins. The router performs no
// I/O of its own.
type rule struct {
	name     string
	match    func(*http.Request) bool
	strategy strategy
}

type router struct {
	rules []rule
}

// route returns the strategy for a request together with the name of
// the rule that selected it. The final rule matches unconditionally,
// so route never falls through with no action.
func (r *router) route(req *http.Request) (strategy, string) {
	for _, rl := range r.rules {
		if rl.match(req) {
			return rl.strategy, rl.name
		}
	}
	// Unreachable as long as the last rule is a catch-all.
	return r.rules[len(r.rules)-1].strategy, r.rules[len(r.rules)-1].name
}

func newRouter(s *Stash) *router {
	routing := s.cfg.Routing

	return &router{rules: []rule{
		{
			name: "static-asset",
			match: func(req *http.Request) bool {
				return req.Method == http.MethodGet && hasAnySuffix(req.URL.Path, routing.StaticSuffixes)
			},
			strategy: &cacheFirst{s: s},
		},
		{
			name: "api-get",
			match: func(req *http.Request) bool {
				return (req.Method == http.MethodGet || req.Method == http.MethodHead) &&
					strings.HasPrefix(req.URL.Path, routing.APIPrefix)
			},
			strategy: &networkFirst{s: s},
		},
		{
			name: "navigation",
			match: func(req *http.Request) bool {
				return req.Method == http.MethodGet && isNavigation(req)
			},
			strategy: &networkFirst{s: s, page: true},
		},
		{
			name: "mutation",
			match: func(req *http.Request) bool {
				return isMutating(req.Method)
			},
			strategy: &optimisticQueue{s: s},
		},
		{
			name:     "passthrough",
			match:    func(*http.Request) bool { return true },
			strategy: &passthrough{s: s},
		},
	}}
}

func hasAnySuffix(path string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// isNavigation treats a GET asking for HTML as a document navigation.
func isNavigation(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// matchesAny reports whether the path contains any of the configured
// substrings.
func matchesAny(path string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(path, substr) {
			return true
		}
	}
	return false
}

// cacheable reports whether a GET on this path may be persisted to the
// dynamic or AI partition.
func cacheable(routing config.RoutingConfig, path string) bool {
	return matchesAny(path, routing.CacheableAPIs) || matchesAny(path, routing.AIClassified)
}
