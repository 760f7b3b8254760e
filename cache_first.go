package stash

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"goflare.io/stash/models"
)

// cacheFirst serves static assets: a hit returns immediately without
// touching the network; a miss fetches once (concurrent misses for the
// same key are collapsed) and stores the result before returning it.
type cacheFirst struct {
	s *Stash
}

func (c *cacheFirst) name() string { return "cache-first" }

func (c *cacheFirst) execute(_ context.Context, req *http.Request) (*http.Response, error) {
	key := requestKey(req)

	if e, ok := c.s.static.get(key); ok {
		c.s.metrics.Hits.Inc()
		return entryResponse(req, e, markerHit), nil
	}
	c.s.metrics.Misses.Inc()

	v, err, _ := c.s.sf.Do(key, func() (any, error) {
		resp, err := c.s.fetch(req)
		if err != nil {
			return nil, err
		}
		e, err := snapshotEntry(key, resp)
		if err != nil {
			return nil, err
		}
		if storable(resp) {
			if err := c.s.static.set(key, e); err != nil {
				// Best effort; the response is still served.
				c.s.logger.Warn("Failed to store static asset", zap.String("key", key), zap.Error(err))
			}
		}
		return e, nil
	})
	if err == nil {
		return entryResponse(req, v.(*models.Entry), ""), nil
	}

	c.s.logger.Debug("Static asset unavailable", zap.String("key", key), zap.Error(err))
	if isNavigation(req) {
		return syntheticHTML(req, http.StatusOK, offlinePageHTML), nil
	}
	return c.s.syntheticJSON(req, http.StatusServiceUnavailable, offlinePayload{
		Success:     false,
		Message:     "Asset unavailable offline.",
		OfflineMode: true,
	}), nil
}
