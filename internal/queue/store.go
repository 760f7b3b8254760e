// Package queue implements the durable store for mutations that failed
// while offline. Mutations are kept in a bbolt file so they survive
// process restarts and are replayed in insertion order on drain.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPending = []byte("pending")
	bucketDead    = []byte("dead")

	ErrNotFound = errors.New("queue: mutation not found")
)

// Mutation is a durably stored, not-yet-confirmed write operation
// awaiting replay against the network. Each failed attempt is queued
// independently; the idempotency key lets an idempotent server collapse
// duplicates on replay.
type Mutation struct {
	ID             uint64      `json:"id"`
	URL            string      `json:"url"`
	Method         string      `json:"method"`
	Header         http.Header `json:"header"`
	Body           []byte      `json:"body"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
	Attempts       int         `json:"attempts"`
	IdempotencyKey string      `json:"idempotency_key"`
	LastError      string      `json:"last_error,omitempty"`
}

// Store owns all queued mutations; no other component mutates them
// directly. It is safe for concurrent use by multiple goroutines.
type Store struct {
	db *bolt.DB
	mu sync.Mutex
}

// Open initializes or opens a Store at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPending); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDead)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue appends a mutation and assigns its id from the bucket
// sequence. Enqueue never deduplicates.
func (s *Store) Enqueue(m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		m.ID = id
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(itob(id), raw)
	})
}

// Pending returns all queued mutations in insertion order.
func (s *Store) Pending() ([]*Mutation, error) {
	var out []*Mutation
	err := s.db.View(func(tx *bolt.Tx) error {
		// Keys are big-endian ids, so a forward cursor walk is FIFO.
		return tx.Bucket(bucketPending).ForEach(func(_, v []byte) error {
			m := &Mutation{}
			if err := json.Unmarshal(v, m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a successfully replayed mutation.
func (s *Store) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(itob(id))
	})
}

// Fail records another unsuccessful replay and returns the updated
// attempt count.
func (s *Store) Fail(id uint64, cause string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		raw := b.Get(itob(id))
		if raw == nil {
			return ErrNotFound
		}
		m := &Mutation{}
		if err := json.Unmarshal(raw, m); err != nil {
			return err
		}
		m.Attempts++
		m.LastError = cause
		attempts = m.Attempts
		updated, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(itob(id), updated)
	})
	return attempts, err
}

// MoveToDead relocates a permanently failing mutation into the
// dead-letter bucket. Dead letters are never replayed automatically.
func (s *Store) MoveToDead(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		raw := pending.Get(itob(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketDead).Put(itob(id), raw); err != nil {
			return err
		}
		return pending.Delete(itob(id))
	})
}

// DeadLetters returns all dead-lettered mutations in insertion order.
func (s *Store) DeadLetters() ([]*Mutation, error) {
	var out []*Mutation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDead).ForEach(func(_, v []byte) error {
			m := &Mutation{}
			if err := json.Unmarshal(v, m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports the number of pending mutations.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
