package nats

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/supersky/supersky/internal/store"
)

// DefaultBucket is the key-value bucket used when the DSN names none.
const DefaultBucket = "supersky"

// KVStore is a store.Store backed by a JetStream key-value bucket. Each Put
// replaces the whole value, so readers never see a partial write.
type KVStore struct {
	kv jetstream.KeyValue
}

// EnsureBucket opens the bucket, creating it on first use.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	js := c.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Shared state of the unread-message sync daemon",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// NewKVStore opens bucket as a store.
func NewKVStore(ctx context.Context, client *Client, bucket string) (*KVStore, error) {
	kv, err := client.EnsureBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return store.ErrInvalidKey
	}
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("kv delete %s: %w", key, err)
		}
	}
	return nil
}

// Close is a no-op; the connection belongs to the Client.
func (s *KVStore) Close() error {
	return nil
}

var _ store.Store = (*KVStore)(nil)

// RegisterStoreBackend makes "nats:///bucket" DSNs resolve to buckets on
// client's connection.
func RegisterStoreBackend(client *Client) error {
	return store.Register("nats", func(dsn string) (store.Store, error) {
		bucket, err := bucketFromDSN(dsn)
		if err != nil {
			return nil, err
		}
		return NewKVStore(context.Background(), client, bucket)
	})
}

func bucketFromDSN(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse nats store dsn: %w", err)
	}
	bucket := strings.Trim(parsed.Path, "/")
	if bucket == "" {
		bucket = parsed.Host
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	return bucket, nil
}
