package stash

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// networkFirst prioritizes freshness: the network is attempted first
// and cacheable successes are persisted on the way out. Only when the
// network fails does it fall back to the cached copy (served with a
// stale marker), then to a synthetic offline payload. The page variant
// additionally falls back to the cached app shell and the static
// offline page.
type networkFirst struct {
	s    *Stash
	page bool
}

func (n *networkFirst) name() string {
	if n.page {
		return "network-first-page"
	}
	return "network-first"
}

func (n *networkFirst) execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := requestKey(req)

	resp, err := n.s.fetch(req)
	if err == nil {
		if storable(resp) && (n.page || cacheable(n.s.cfg.Routing, req.URL.Path)) {
			e, serr := snapshotEntry(key, resp)
			if serr != nil {
				n.s.logger.Warn("Failed to snapshot response", zap.String("key", key), zap.Error(serr))
				return resp, nil
			}
			p := n.s.partitionFor(req.URL.Path)
			p.set(ctx, e)
			n.s.markCached(key)
			return entryResponse(req, e, ""), nil
		}
		return resp, nil
	}

	n.s.logger.Debug("Network failed, serving from cache", zap.String("key", key), zap.Error(err))

	// The filter knows every key cached this session; a definite miss
	// skips the partition and remote lookups entirely.
	if n.s.maybeCached(key) {
		p := n.s.partitionFor(req.URL.Path)
		if e, ok := p.fresh(ctx, key); ok {
			// Within TTL: the copy is still valid, just offline-served.
			n.s.metrics.Hits.Inc()
			return entryResponse(req, e, markerStale), nil
		}
		if e, ok := p.lookup(ctx, key); ok {
			n.s.metrics.StaleHits.Inc()
			return entryResponse(req, e, markerStale), nil
		}
	}

	if n.page {
		return n.pageFallback(req), nil
	}

	return n.s.syntheticJSON(req, http.StatusOK, offlinePayload{
		Success:     false,
		Message:     "You appear to be offline. Showing cached reference data.",
		OfflineMode: true,
		CachedData:  n.s.fallbackFor(req.URL.Path),
	}), nil
}

// pageFallback serves the cached app shell so client-side routing can
// take over, or the static offline page when even that is missing.
func (n *networkFirst) pageFallback(req *http.Request) *http.Response {
	shellKey := http.MethodGet + " " + req.URL.Host + n.s.cfg.Offline.ShellPath
	if e, ok := n.s.static.get(shellKey); ok {
		n.s.metrics.StaleHits.Inc()
		return entryResponse(req, e, markerStale)
	}
	return syntheticHTML(req, http.StatusOK, offlinePageHTML)
}
