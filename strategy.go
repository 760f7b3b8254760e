package stash

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"goflare.io/stash/models"
)

// strategy is the read/write/fallback algorithm chosen per request
// class. Implementations must always produce a response for requests
// they accept; infrastructure failures degrade, they do not propagate.
type strategy interface {
	execute(ctx context.Context, req *http.Request) (*http.Response, error)
	name() string
}

// passthrough hands the request to the inner transport untouched.
type passthrough struct {
	s *Stash
}

func (p *passthrough) name() string { return "passthrough" }

func (p *passthrough) execute(_ context.Context, req *http.Request) (*http.Response, error) {
	return p.s.transport.RoundTrip(req)
}

// requestKey identifies a cache entry: method plus host and URI. One
// entry per key per partition.
func requestKey(req *http.Request) string {
	return req.Method + " " + req.URL.Host + req.URL.RequestURI()
}

// snapshotEntry drains the response body into a cacheable Entry. The
// original response is consumed; serve the result via entryResponse.
func snapshotEntry(key string, resp *http.Response) (*models.Entry, error) {
	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close response body: %w", closeErr)
	}
	var url string
	if resp.Request != nil {
		url = resp.Request.URL.String()
	}
	return &models.Entry{
		Key:    key,
		URL:    url,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// entryResponse rebuilds an http.Response from a cached entry. A
// non-empty marker annotates the response as cache- or offline-served.
func entryResponse(req *http.Request, e *models.Entry, marker string) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if marker != "" {
		header.Set(headerCache, marker)
	}
	return syntheticResponse(req, e.Status, header, e.Body)
}

// storable reports whether a response is worth caching.
func storable(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// fetch performs the network attempt through the circuit breaker. An
// open breaker short-circuits straight to the offline path without
// waiting on a dial.
func (s *Stash) fetch(req *http.Request) (*http.Response, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return s.transport.RoundTrip(req)
	})
	if err != nil {
		s.metrics.NetworkErrors.Inc()
		return nil, err
	}
	return v.(*http.Response), nil
}
