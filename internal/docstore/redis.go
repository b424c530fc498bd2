package docstore

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix     = "doc:"
	redisChannelPrefix = "docchange:"
)

// RedisStore is a Store backed by Redis: one hash per document, a pub/sub
// channel per document path for the change feed, HINCRBY for Increment, and the
// Redis server clock for ServerTimestamp.
type RedisStore struct {
	client *redis.Client
}

// ConnectRedis opens a Redis client from an address or redis:// URL and pings it.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisStore returns a document store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetDocument writes the document hash and publishes a change signal.
// Increments use HINCRBY so concurrent counters do not lose updates.
func (s *RedisStore) SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	path := docPath(collection, id)
	key := redisDocPrefix + path

	plain := make(map[string]string, len(fields))
	var incs []struct {
		field string
		by    int64
	}
	for k, v := range fields {
		switch sv := v.(type) {
		case serverTimestamp:
			now, err := s.client.Time(ctx).Result()
			if err != nil {
				return err
			}
			plain[k] = now.UTC().Format(time.RFC3339Nano)
		case increment:
			incs = append(incs, struct {
				field string
				by    int64
			}{k, sv.by})
		default:
			plain[k] = encodeRedisValue(v)
		}
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if !merge {
			p.Del(ctx, key)
		}
		if len(plain) > 0 {
			p.HSet(ctx, key, plain)
		}
		for _, inc := range incs {
			p.HIncrBy(ctx, key, inc.field, inc.by)
		}
		p.Publish(ctx, redisChannelPrefix+path, "")
		return nil
	})
	return err
}

// GetDocument returns the current document, or nil if the hash is empty/absent.
func (s *RedisStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	data, err := s.client.HGetAll(ctx, redisDocPrefix+docPath(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	fields := make(Fields, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return &Document{Collection: collection, ID: id, Fields: fields}, nil
}

// OnDocumentChange subscribes to the document's pub/sub channel. A published
// signal carries no payload; the current document is re-read on every message,
// which preserves register semantics across dropped messages.
func (s *RedisStore) OnDocumentChange(collection, id string, fn ChangeFunc) (UnsubscribeFunc, error) {
	ctx := context.Background()
	pubsub := s.client.Subscribe(ctx, redisChannelPrefix+docPath(collection, id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	deliver := func() {
		doc, err := s.GetDocument(ctx, collection, id)
		if err != nil {
			log.Printf("docstore: redis read after change signal failed: %v", err)
			return
		}
		fn(doc)
	}

	go func() {
		deliver() // initial snapshot
		for range pubsub.Channel() {
			deliver()
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeRedisValue(v any) string {
	switch sv := v.(type) {
	case string:
		return sv
	case bool:
		return strconv.FormatBool(sv)
	case int64:
		return strconv.FormatInt(sv, 10)
	case int:
		return strconv.Itoa(sv)
	case time.Time:
		return sv.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(sv)
	}
}
