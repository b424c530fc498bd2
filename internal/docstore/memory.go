package docstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for tests and single-process hosts.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]Fields
	subs    map[string]map[int]*memSub
	nextSub int
	closed  bool
	nowF    func() time.Time
}

type memSub struct {
	signal chan struct{} // cap 1; coalesces change notifications
	done   chan struct{}
	once   sync.Once
}

func (s *memSub) stop() { s.once.Do(func() { close(s.done) }) }

// NewMemoryStore returns a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Fields),
		subs: make(map[string]map[int]*memSub),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// SetDocument applies the write under the store lock and wakes subscribers.
// ServerTimestamp resolves to the store clock; Increment reads the prior value in place.
func (s *MemoryStore) SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := docPath(collection, id)

	s.mu.Lock()
	cur := s.docs[path]
	var next Fields
	if merge && cur != nil {
		next = make(Fields, len(cur)+len(fields))
		for k, v := range cur {
			next[k] = v
		}
	} else {
		next = make(Fields, len(fields))
	}
	for k, v := range fields {
		switch sv := v.(type) {
		case serverTimestamp:
			next[k] = s.nowF()
		case increment:
			var prior int64
			if cur != nil {
				prior = (&Document{Fields: cur}).Int(k)
			}
			next[k] = prior + sv.by
		default:
			next[k] = v
		}
	}
	s.docs[path] = next
	for _, sub := range s.subs[path] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	return nil
}

// GetDocument returns a copy of the current document, or nil if absent.
func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(collection, id), nil
}

func (s *MemoryStore) snapshotLocked(collection, id string) *Document {
	cur, ok := s.docs[docPath(collection, id)]
	if !ok {
		return nil
	}
	cp := make(Fields, len(cur))
	for k, v := range cur {
		cp[k] = v
	}
	return &Document{Collection: collection, ID: id, Fields: cp}
}

// OnDocumentChange subscribes to the document. The callback runs on a dedicated
// goroutine: once with the initial snapshot, then with the latest value after
// writes (coalesced).
func (s *MemoryStore) OnDocumentChange(collection, id string, fn ChangeFunc) (UnsubscribeFunc, error) {
	path := docPath(collection, id)
	sub := &memSub{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}, nil
	}
	s.nextSub++
	key := s.nextSub
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]*memSub)
	}
	s.subs[path][key] = sub
	s.mu.Unlock()

	sub.signal <- struct{}{} // initial snapshot

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-sub.signal:
				s.mu.Lock()
				snap := s.snapshotLocked(collection, id)
				s.mu.Unlock()
				fn(snap)
			}
		}
	}()

	unsubscribe := func() {
		sub.stop()
		s.mu.Lock()
		if m := s.subs[path]; m != nil {
			delete(m, key)
			if len(m) == 0 {
				delete(s.subs, path)
			}
		}
		s.mu.Unlock()
	}
	return unsubscribe, nil
}

// Close stops all subscriptions. The store must not be used afterwards.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, m := range s.subs {
		for _, sub := range m {
			sub.stop()
		}
	}
	s.subs = make(map[string]map[int]*memSub)
	s.mu.Unlock()
	return nil
}
