package stash

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"goflare.io/stash/config"
)

func TestRouterClassification(t *testing.T) {
	s := &Stash{cfg: config.NewConfig()}
	r := newRouter(s)

	tests := []struct {
		name   string
		method string
		target string
		accept string
		want   string
	}{
		{"stylesheet", http.MethodGet, "/static/css/style.css", "", "static-asset"},
		{"script", http.MethodGet, "/static/js/app.js", "", "static-asset"},
		{"font", http.MethodGet, "/fonts/inter.woff2", "", "static-asset"},
		{"api get", http.MethodGet, "/api/meals/today", "", "api-get"},
		{"api head", http.MethodHead, "/api/health", "", "api-get"},
		{"api get html accept", http.MethodGet, "/api/stats/dashboard", "text/html", "api-get"},
		{"navigation root", http.MethodGet, "/", "text/html,application/xhtml+xml", "navigation"},
		{"navigation page", http.MethodGet, "/dashboard", "text/html", "navigation"},
		{"api post", http.MethodPost, "/api/meals/log", "", "mutation"},
		{"api delete", http.MethodDelete, "/api/meals/42", "", "mutation"},
		{"page put", http.MethodPut, "/anything", "", "mutation"},
		{"plain get", http.MethodGet, "/metrics", "", "passthrough"},
		{"options", http.MethodOptions, "/api/meals/log", "", "passthrough"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			_, got := r.route(req)
			if got != tc.want {
				t.Errorf("route(%s %s) = %q, want %q", tc.method, tc.target, got, tc.want)
			}
		})
	}
}

func TestRouterRulesAreOrdered(t *testing.T) {
	s := &Stash{cfg: config.NewConfig()}
	r := newRouter(s)

	// A GET for a .css file under the API namespace must still be
	// classified as a static asset: the suffix rule runs first.
	req := httptest.NewRequest(http.MethodGet, "/api/export/report.css", nil)
	if _, got := r.route(req); got != "static-asset" {
		t.Errorf("suffix rule should win over API prefix, got %q", got)
	}
}
