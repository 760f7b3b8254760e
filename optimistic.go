package stash

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"goflare.io/stash/internal/queue"
)

// optimisticQueue attempts delivery of a mutating request; when the
// network is down and the target is on the important-mutation
// allowlist, the request is persisted for replay and an optimistic
// acceptance is returned. Non-allowlisted mutations fail hard so the
// caller never sees a false success.
type optimisticQueue struct {
	s *Stash
}

func (o *optimisticQueue) name() string { return "optimistic-queue" }

func (o *optimisticQueue) execute(_ context.Context, req *http.Request) (*http.Response, error) {
	// Buffer the body up front; it must survive a failed send to be
	// queued with the mutation.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := o.s.fetch(req)
	if err == nil {
		return resp, nil
	}

	if !matchesAny(req.URL.Path, o.s.cfg.Routing.ImportantMutations) {
		return o.s.syntheticJSON(req, http.StatusServiceUnavailable, offlinePayload{
			Success:     false,
			Message:     "You're offline and this action can't be queued. Please retry when connected.",
			OfflineMode: true,
		}), nil
	}

	m := &queue.Mutation{
		URL:            req.URL.String(),
		Method:         req.Method,
		Header:         req.Header.Clone(),
		Body:           body,
		EnqueuedAt:     time.Now(),
		IdempotencyKey: newIdempotencyKey(),
	}
	if qerr := o.s.queue.Enqueue(m); qerr != nil {
		// Queue persistence is best-effort: the optimistic response is
		// still returned, at the accepted risk of losing the mutation.
		o.s.logger.Error("Failed to persist queued mutation",
			zap.String("url", m.URL), zap.Error(qerr))
	} else {
		o.s.metrics.Queued.Inc()
	}

	return o.s.syntheticJSON(req, http.StatusAccepted, offlinePayload{
		Success:     true,
		Message:     "Saved locally. This will sync automatically when you're back online.",
		OfflineMode: true,
		Queued:      true,
	}), nil
}

// newIdempotencyKey generates the client-side key an idempotent server
// can use to collapse duplicate replays of the same logical action.
func newIdempotencyKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "stash-" + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}
