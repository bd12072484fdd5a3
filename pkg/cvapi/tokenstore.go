package cvapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TokenStore persists TokenInfo outside the process so that several workers
// sharing one refresh token can observe rotation performed by a sibling. A
// persistent session always re-reads the store before concluding a refresh
// token is truly expired; it never assumes it is the sole writer.
type TokenStore interface {
	// Read returns the stored tokens, or (nil, nil) when nothing is stored.
	Read(ctx context.Context) (*TokenInfo, error)
	// Write replaces the stored tokens.
	Write(ctx context.Context, info *TokenInfo) error
	// Clear removes the stored tokens.
	Clear(ctx context.Context) error
}

// Static errors for err113 compliance.
var (
	ErrNATSBucketRequired = errors.New("NATS KV bucket is required")
	ErrRedisKeyRequired   = errors.New("redis client and key are required")
)

// storedToken is the serialized shape shared by the external store backends.
// Durations and timestamps are flattened to milliseconds so non-Go writers of
// the same store can interoperate.
type storedToken struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	AccessTokenTTLMS int64  `json:"access_token_ttl_ms"`
	AcquiredAtMS     int64  `json:"acquired_at_ms"`
}

func encodeStoredToken(info *TokenInfo) ([]byte, error) {
	data, err := json.Marshal(storedToken{
		AccessToken:      info.AccessToken,
		RefreshToken:     info.RefreshToken,
		AccessTokenTTLMS: info.AccessTokenTTL.Milliseconds(),
		AcquiredAtMS:     info.AcquiredAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token info: %w", err)
	}

	return data, nil
}

func decodeStoredToken(data []byte) (*TokenInfo, error) {
	var stored storedToken

	err := json.Unmarshal(data, &stored)
	if err != nil {
		return nil, fmt.Errorf("decoding token info: %w", err)
	}

	return &TokenInfo{
		AccessToken:    stored.AccessToken,
		RefreshToken:   stored.RefreshToken,
		AccessTokenTTL: time.Duration(stored.AccessTokenTTLMS) * time.Millisecond,
		AcquiredAt:     time.UnixMilli(stored.AcquiredAtMS),
	}, nil
}

// MemoryTokenStore is a process-local TokenStore, mainly useful in tests and
// single-process deployments.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	info *TokenInfo
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Read implements TokenStore.Read.
func (s *MemoryTokenStore) Read(ctx context.Context) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.info == nil {
		return nil, nil
	}

	copied := *s.info

	return &copied, nil
}

// Write implements TokenStore.Write.
func (s *MemoryTokenStore) Write(ctx context.Context, info *TokenInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *info
	s.info = &copied

	return nil
}

// Clear implements TokenStore.Clear.
func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info = nil

	return nil
}
