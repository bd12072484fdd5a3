package cvapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSKVTokenStore persists tokens in a NATS JetStream key-value bucket so
// any process connected to the same cluster observes refreshes immediately.
type NATSKVTokenStore struct {
	bucket nats.KeyValue
	key    string
}

// NewNATSKVTokenStore creates a token store backed by the given KV bucket.
func NewNATSKVTokenStore(bucket nats.KeyValue, key string) (*NATSKVTokenStore, error) {
	if bucket == nil {
		return nil, ErrNATSBucketRequired
	}

	if key == "" {
		key = "token"
	}

	return &NATSKVTokenStore{bucket: bucket, key: key}, nil
}

// Read implements TokenStore.Read.
func (s *NATSKVTokenStore) Read(ctx context.Context) (*TokenInfo, error) {
	entry, err := s.bucket.Get(s.key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading token from NATS KV: %w", err)
	}

	return decodeStoredToken(entry.Value())
}

// Write implements TokenStore.Write.
func (s *NATSKVTokenStore) Write(ctx context.Context, info *TokenInfo) error {
	data, err := encodeStoredToken(info)
	if err != nil {
		return err
	}

	_, err = s.bucket.Put(s.key, data)
	if err != nil {
		return fmt.Errorf("writing token to NATS KV: %w", err)
	}

	return nil
}

// Clear implements TokenStore.Clear.
func (s *NATSKVTokenStore) Clear(ctx context.Context) error {
	err := s.bucket.Delete(s.key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("clearing token from NATS KV: %w", err)
	}

	return nil
}
