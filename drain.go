package stash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/stash/internal/queue"
)

const headerIdempotency = "X-Idempotency-Key"

// Mutation re-exports the queued mutation record for consumers
// inspecting the dead-letter list.
type Mutation = queue.Mutation

// NotifyOnline 通知連線恢復並排空佇列
// NotifyOnline signals that connectivity returned and drains the
// mutation queue. It is also invoked automatically when the network
// circuit breaker closes again and on the periodic drain schedule.
func (s *Stash) NotifyOnline(ctx context.Context) {
	if err := s.drainAll(ctx); err != nil {
		s.logger.Warn("Drain failed", zap.Error(err))
	}
}

// drainAll replays all pending mutations in insertion order. Success
// removes a mutation; failure leaves it queued for the next trigger,
// and a mutation that keeps failing past the configured attempt limit
// is dead-lettered. Draining an empty queue performs no network calls.
// The pass is not atomic: a crash mid-drain leaves completed removals
// durable and the rest still queued.
func (s *Stash) drainAll(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	pending, err := s.queue.Pending()
	if err != nil {
		return fmt.Errorf("failed to list pending mutations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "Stash.Drain",
		trace.WithAttributes(attribute.Int("pending", len(pending))))
	defer span.End()

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.replay(ctx, m); err != nil {
			attempts, ferr := s.queue.Fail(m.ID, err.Error())
			if ferr != nil {
				s.logger.Error("Failed to record replay failure",
					zap.Uint64("id", m.ID), zap.Error(ferr))
				continue
			}
			s.logger.Warn("Replay failed, mutation stays queued",
				zap.Uint64("id", m.ID), zap.String("url", m.URL),
				zap.Int("attempts", attempts), zap.Error(err))
			if attempts >= s.cfg.Queue.MaxAttempts {
				if derr := s.queue.MoveToDead(m.ID); derr != nil {
					s.logger.Error("Failed to dead-letter mutation",
						zap.Uint64("id", m.ID), zap.Error(derr))
					continue
				}
				s.metrics.DeadLettered.Inc()
				s.logger.Warn("Mutation dead-lettered",
					zap.Uint64("id", m.ID), zap.String("url", m.URL))
			}
			continue
		}
		if err := s.queue.Remove(m.ID); err != nil {
			s.logger.Error("Failed to remove drained mutation",
				zap.Uint64("id", m.ID), zap.Error(err))
			continue
		}
		s.metrics.Drained.Inc()
		s.logger.Info("Queued mutation synced",
			zap.Uint64("id", m.ID), zap.String("url", m.URL))
	}
	return nil
}

// replay delivers one mutation with its original method, headers and
// body, retrying with exponential backoff within the pass. Any server
// response, including a 4xx rejection, counts as delivered; only
// connectivity failures and 5xx answers are retried.
func (s *Stash) replay(ctx context.Context, m *queue.Mutation) error {
	return s.retrier.Run(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, m.Method, m.URL, bytes.NewReader(m.Body))
		if err != nil {
			return err
		}
		if m.Header != nil {
			req.Header = m.Header.Clone()
		}
		req.Header.Set(headerIdempotency, m.IdempotencyKey)

		resp, err := s.fetch(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("replay %s %s: status %d", m.Method, m.URL, resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			s.logger.Warn("Server rejected replayed mutation",
				zap.Uint64("id", m.ID), zap.String("url", m.URL), zap.Int("status", resp.StatusCode))
		}
		return nil
	})
}

// QueueLen reports the number of mutations awaiting replay.
func (s *Stash) QueueLen() (int, error) {
	return s.queue.Len()
}

// DeadLetters returns mutations that exhausted their drain attempts.
func (s *Stash) DeadLetters() ([]*Mutation, error) {
	return s.queue.DeadLetters()
}
