// Package docstore provides a small real-time document store abstraction:
// last-write-wins documents addressed by (collection, id), with merge writes,
// server-assigned timestamp and atomic increment sentinels, and a change feed.
//
// The change feed has register semantics: a subscriber eventually observes the
// latest value of a document, but intermediate writes may be coalesced. Callers
// must treat a notification as "the document is now X", never as a log of
// discrete events to replay.
package docstore

import (
	"context"
	"strconv"
	"time"
)

// Fields is the field set of a document. Values are strings, bools, int64s,
// or time.Time, plus the ServerTimestamp and Increment sentinels on writes.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp returns a sentinel that is replaced with a store-assigned
// timestamp when the write is applied.
func ServerTimestamp() any { return serverTimestamp{} }

type increment struct{ by int64 }

// Increment returns a sentinel that atomically adds by to the current numeric
// value of the field (treating an absent field as zero).
func Increment(by int64) any { return increment{by: by} }

// Document is a point-in-time snapshot of a stored document.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
}

// String returns the field as a string, or "" when absent.
func (d *Document) String(key string) string {
	if d == nil {
		return ""
	}
	switch v := d.Fields[key].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// Time returns the field as a time.Time, or the zero time when absent or unparseable.
// Backends that persist timestamps as strings (Redis hashes, jsonb) are decoded here.
func (d *Document) Time(key string) time.Time {
	if d == nil {
		return time.Time{}
	}
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Bool returns the field as a bool, or false when absent or unparseable.
func (d *Document) Bool(key string) bool {
	if d == nil {
		return false
	}
	switch v := d.Fields[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Int returns the field as an int64, or 0 when absent or unparseable.
func (d *Document) Int(key string) int64 {
	if d == nil {
		return 0
	}
	switch v := d.Fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// ChangeFunc receives the current state of a subscribed document. doc is nil
// when the document is absent. Called from a single goroutine per subscription.
type ChangeFunc func(doc *Document)

// UnsubscribeFunc cancels a subscription. Idempotent.
type UnsubscribeFunc func()

// Store is the document store consumed by the session guard.
type Store interface {
	// SetDocument writes fields to (collection, id). With merge, existing
	// fields not named are preserved; otherwise the document is replaced.
	// Last write wins per document.
	SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error
	// GetDocument returns the current document, or nil if absent.
	// It returns an error only for store failures, not for missing documents.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	// OnDocumentChange subscribes to (collection, id). The callback receives an
	// initial snapshot (possibly nil) and then the latest value after writes.
	OnDocumentChange(collection, id string, fn ChangeFunc) (UnsubscribeFunc, error)
	// Close releases the store's resources and stops all subscriptions.
	Close() error
}

func docPath(collection, id string) string { return collection + "/" + id }
