package models

import (
	"net/http"
	"time"
)

// Entry is a cached snapshot of an HTTP response. At most one entry
// exists per request key per partition; a refresh overwrites it.
type Entry struct {
	Key        string      `json:"key"`
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	InsertedAt time.Time   `json:"inserted_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.InsertedAt)
}

// Expired reports whether the entry is older than maxAge. A zero maxAge
// never expires.
func (e *Entry) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && e.Age(now) > maxAge
}
