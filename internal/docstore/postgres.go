package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const pgNotifyChannel = "document_change"

// PostgresStore is a Store backed by the documents table: jsonb fields with
// last-write-wins upserts, and a LISTEN/NOTIFY change feed fed by a trigger.
// Writes go through the shared *sql.DB pool; the change feed holds one
// dedicated pgx connection for LISTEN.
type PostgresStore struct {
	pool *sql.DB
	dsn  string

	mu      sync.Mutex
	subs    map[string]map[int]*pgSub
	nextSub int
	cancel  context.CancelFunc
	started bool
	closed  bool
}

type pgSub struct {
	signal chan struct{} // cap 1; coalesces change notifications
	done   chan struct{}
	once   sync.Once
}

func (s *pgSub) stop() { s.once.Do(func() { close(s.done) }) }

// NewPostgresStore returns a document store over the given pool. dsn is used to
// open the dedicated LISTEN connection when the first subscription is created.
func NewPostgresStore(pool *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		dsn:  dsn,
		subs: make(map[string]map[int]*pgSub),
	}
}

// SetDocument applies the write in a transaction: the current row is locked,
// sentinels are resolved against the database clock and prior value, and the
// result is upserted. Merge keeps unnamed fields; replace drops them.
func (s *PostgresStore) SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var now time.Time
	if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return err
	}

	var curRaw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&curRaw)
	var cur Fields
	switch {
	case err == nil:
		if err := json.Unmarshal(curRaw, &cur); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		cur = nil
	default:
		return err
	}

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
			next[k] = now.UTC().Format(time.RFC3339Nano)
		case increment:
			var prior int64
			if cur != nil {
				prior = (&Document{Fields: cur}).Int(k)
			}
			next[k] = prior + sv.by
		case time.Time:
			next[k] = sv.UTC().Format(time.RFC3339Nano)
		default:
			next[k] = v
		}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id)
		 DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		collection, id, raw,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetDocument returns the current document, or nil if the row is absent.
func (s *PostgresStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	err := s.pool.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return &Document{Collection: collection, ID: id, Fields: fields}, nil
}

// OnDocumentChange subscribes to the document. The LISTEN connection is opened
// lazily on the first subscription; the notification payload names the changed
// path, and subscribers re-read the current row on every signal.
func (s *PostgresStore) OnDocumentChange(collection, id string, fn ChangeFunc) (UnsubscribeFunc, error) {
	path := docPath(collection, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}, nil
	}
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.started = true
		go s.listenLoop(ctx)
	}
	sub := &pgSub{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.nextSub++
	key := s.nextSub
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]*pgSub)
	}
	s.subs[path][key] = sub
	s.mu.Unlock()

	sub.signal <- struct{}{} // initial snapshot

	go func() {
		ctx := context.Background()
		for {
			select {
			case <-sub.done:
				return
			case <-sub.signal:
				doc, err := s.GetDocument(ctx, collection, id)
				if err != nil {
					log.Printf("docstore: postgres read after change signal failed: %v", err)
					continue
				}
				fn(doc)
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

// listenLoop holds the LISTEN connection and dispatches notifications to
// subscribers. Connection failures are logged and retried; subscribers simply
// see the latest value once the feed is back.
func (s *PostgresStore) listenLoop(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := pgx.Connect(ctx, s.dsn)
		if err != nil {
			log.Printf("docstore: listen connect failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if _, err := conn.Exec(ctx, `LISTEN `+pgNotifyChannel); err != nil {
			log.Printf("docstore: LISTEN failed: %v", err)
			_ = conn.Close(ctx)
			continue
		}
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("docstore: notification wait failed, reconnecting: %v", err)
				}
				break
			}
			s.mu.Lock()
			for _, sub := range s.subs[n.Payload] {
				select {
				case sub.signal <- struct{}{}:
				default:
				}
			}
			s.mu.Unlock()
		}
		_ = conn.Close(context.Background())
	}
}

// Close stops the change feed and all subscriptions. The shared pool is owned
// by the caller and is not closed here.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, m := range s.subs {
		for _, sub := range m {
			sub.stop()
		}
	}
	s.subs = make(map[string]map[int]*pgSub)
	s.mu.Unlock()
	return nil
}
