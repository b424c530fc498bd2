// Package session persists session and lockout records in the document store.
package session

import (
	"context"

	"trading-session-guard/internal/docstore"
	"trading-session-guard/internal/session/domain"
)

// Document store collections. One document per user in each.
const (
	CollectionSessions = "sessions"
	CollectionLockouts = "lockouts"
)

// Session document field names. These are the wire names observed by every
// client sharing the store, so they must not change between releases.
const (
	fieldSessionToken  = "sessionToken"
	fieldUserID        = "userId"
	fieldUserEmail     = "userEmail"
	fieldCreatedAt     = "createdAt"
	fieldLastHeartbeat = "lastHeartbeat"
	fieldIsActive      = "isActive"
	fieldEndedAt       = "endedAt"

	fieldKickCount   = "kickCount"
	fieldFirstKickAt = "firstKickAt"
	fieldLastKickAt  = "lastKickAt"
	fieldIsLocked    = "isLocked"
)

// Store reads and writes session and lockout documents.
type Store struct {
	docs docstore.Store
}

// NewStore returns a session store over the given document store.
func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

// Create writes a fresh session record for userID, overwriting any existing one
// in place. This is the takeover write: whichever client performed it last owns
// the session, and any previously connected client is evicted asynchronously
// once its monitor observes the change.
func (s *Store) Create(ctx context.Context, userID, userEmail, sessionToken string) error {
	return s.docs.SetDocument(ctx, CollectionSessions, userID, docstore.Fields{
		fieldSessionToken:  sessionToken,
		fieldUserID:        userID,
		fieldUserEmail:     userEmail,
		fieldCreatedAt:     docstore.ServerTimestamp(),
		fieldLastHeartbeat: docstore.ServerTimestamp(),
		fieldIsActive:      true,
	}, false)
}

// Heartbeat refreshes the liveness timestamp with a merge write, leaving the
// token and every other field untouched.
func (s *Store) Heartbeat(ctx context.Context, userID string) error {
	return s.docs.SetDocument(ctx, CollectionSessions, userID, docstore.Fields{
		fieldLastHeartbeat: docstore.ServerTimestamp(),
	}, true)
}

// End marks the session inactive, but only when ownToken still owns the
// document. Returns false when the document is already owned by a newer login,
// in which case nothing is written (the new session must not be clobbered).
func (s *Store) End(ctx context.Context, userID, ownToken string) (bool, error) {
	doc, err := s.docs.GetDocument(ctx, CollectionSessions, userID)
	if err != nil {
		return false, err
	}
	if doc == nil || doc.String(fieldSessionToken) != ownToken {
		return false, nil
	}
	err = s.docs.SetDocument(ctx, CollectionSessions, userID, docstore.Fields{
		fieldIsActive: false,
		fieldEndedAt:  docstore.ServerTimestamp(),
	}, true)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the current session record for userID, or nil if absent.
func (s *Store) Get(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	doc, err := s.docs.GetDocument(ctx, CollectionSessions, userID)
	if err != nil {
		return nil, err
	}
	return docToSession(doc), nil
}

// Watch subscribes to the user's session document. The callback receives the
// current record (nil when absent): an initial snapshot, then the latest value
// after every observed change. Intermediate writes may be coalesced.
func (s *Store) Watch(userID string, fn func(*domain.SessionRecord)) (docstore.UnsubscribeFunc, error) {
	return s.docs.OnDocumentChange(CollectionSessions, userID, func(doc *docstore.Document) {
		fn(docToSession(doc))
	})
}

// RecordKick counts one forced eviction for userID, creating the lockout record
// if absent. isLocked is written false on every kick: the lockout mechanism is
// observational only, a kick never blocks future logins.
func (s *Store) RecordKick(ctx context.Context, userID string) error {
	existing, err := s.docs.GetDocument(ctx, CollectionLockouts, userID)
	if err != nil {
		return err
	}
	fields := docstore.Fields{
		fieldKickCount:  docstore.Increment(1),
		fieldLastKickAt: docstore.ServerTimestamp(),
		fieldIsLocked:   false,
	}
	if existing == nil || existing.Time(fieldFirstKickAt).IsZero() {
		fields[fieldFirstKickAt] = docstore.ServerTimestamp()
	}
	return s.docs.SetDocument(ctx, CollectionLockouts, userID, fields, true)
}

// GetLockout returns the lockout record for userID, or nil if the user was
// never kicked.
func (s *Store) GetLockout(ctx context.Context, userID string) (*domain.LockoutRecord, error) {
	doc, err := s.docs.GetDocument(ctx, CollectionLockouts, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	rec := &domain.LockoutRecord{
		KickCount: doc.Int(fieldKickCount),
		IsLocked:  doc.Bool(fieldIsLocked),
	}
	if t := doc.Time(fieldFirstKickAt); !t.IsZero() {
		rec.FirstKickAt = &t
	}
	if t := doc.Time(fieldLastKickAt); !t.IsZero() {
		rec.LastKickAt = &t
	}
	return rec, nil
}

func docToSession(doc *docstore.Document) *domain.SessionRecord {
	if doc == nil {
		return nil
	}
	rec := &domain.SessionRecord{
		SessionToken:  doc.String(fieldSessionToken),
		UserID:        doc.String(fieldUserID),
		UserEmail:     doc.String(fieldUserEmail),
		CreatedAt:     doc.Time(fieldCreatedAt),
		LastHeartbeat: doc.Time(fieldLastHeartbeat),
		IsActive:      doc.Bool(fieldIsActive),
	}
	if t := doc.Time(fieldEndedAt); !t.IsZero() {
		endedAt := t
		rec.EndedAt = &endedAt
	}
	return rec
}
