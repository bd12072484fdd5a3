package auth

import (
	"context"
	"fmt"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// BasicSession wraps a single immutable access token, typically a developer
// token. It has no refresh capability; GetAccessToken always resolves with
// the stored token. Included for contract uniformity with the refreshable
// sessions.
type BasicSession struct {
	accessToken  string
	tokenManager *TokenManager
}

// NewBasicSession creates a session around an existing access token.
func NewBasicSession(accessToken string, tokenManager *TokenManager) *BasicSession {
	return &BasicSession{
		accessToken:  accessToken,
		tokenManager: tokenManager,
	}
}

// GetAccessToken implements Session.GetAccessToken.
func (s *BasicSession) GetAccessToken(ctx context.Context, opts *RequestOptions) (string, error) {
	return s.accessToken, nil
}

// RevokeTokens implements Session.RevokeTokens.
func (s *BasicSession) RevokeTokens(ctx context.Context, opts *RequestOptions) error {
	return s.tokenManager.Revoke(ctx, s.accessToken, opts)
}

// ExchangeToken implements Session.ExchangeToken.
func (s *BasicSession) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	return s.tokenManager.ExchangeToken(ctx, s.accessToken, scopes, resourceURL, actor, opts)
}

// AnonymousSession obtains application-scoped tokens via the
// client-credentials grant and refreshes them once they go stale. Concurrent
// callers during a refresh share one network grant.
type AnonymousSession struct {
	config       *cvapi.Config
	tokenManager *TokenManager
	cache        tokenCache
}

// NewAnonymousSession creates a client-credentials session.
func NewAnonymousSession(config *cvapi.Config, tokenManager *TokenManager) *AnonymousSession {
	return &AnonymousSession{
		config:       config,
		tokenManager: tokenManager,
	}
}

// GetAccessToken implements Session.GetAccessToken.
func (s *AnonymousSession) GetAccessToken(ctx context.Context, opts *RequestOptions) (string, error) {
	info, err := s.cache.get(ctx, s.config.StaleBuffer, s.config.ExpiredBuffer, func(ctx context.Context) (*cvapi.TokenInfo, error) {
		return s.tokenManager.ClientCredentialsGrant(ctx, opts)
	})
	if err != nil {
		return "", fmt.Errorf("getting anonymous access token: %w", err)
	}

	return info.AccessToken, nil
}

// RevokeTokens implements Session.RevokeTokens. Revoking an anonymous
// session only invalidates the token currently cached, if any.
func (s *AnonymousSession) RevokeTokens(ctx context.Context, opts *RequestOptions) error {
	info := s.cache.token()
	if info == nil {
		return nil
	}

	s.cache.clear()

	return s.tokenManager.Revoke(ctx, info.AccessToken, opts)
}

// ExchangeToken implements Session.ExchangeToken.
func (s *AnonymousSession) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	accessToken, err := s.GetAccessToken(ctx, opts)
	if err != nil {
		return nil, err
	}

	return s.tokenManager.ExchangeToken(ctx, accessToken, scopes, resourceURL, actor, opts)
}

// HandleExpiredTokensError implements ExpiredTokensHandler by dropping the
// cached token so the next call performs a fresh grant.
func (s *AnonymousSession) HandleExpiredTokensError(ctx context.Context, cause error) error {
	s.cache.clear()

	return cause
}

// AppAuthSession obtains tokens for a fixed enterprise or managed-user
// identity via signed JWT assertions, refreshing them once stale with the
// same single-flight coalescing as AnonymousSession.
type AppAuthSession struct {
	config       *cvapi.Config
	tokenManager *TokenManager
	subjectType  SubjectType
	subjectID    string
	cache        tokenCache
}

// NewAppAuthSession creates a JWT-bearer session for the given subject.
func NewAppAuthSession(config *cvapi.Config, tokenManager *TokenManager, subjectType SubjectType, subjectID string) *AppAuthSession {
	return &AppAuthSession{
		config:       config,
		tokenManager: tokenManager,
		subjectType:  subjectType,
		subjectID:    subjectID,
	}
}

// GetAccessToken implements Session.GetAccessToken.
func (s *AppAuthSession) GetAccessToken(ctx context.Context, opts *RequestOptions) (string, error) {
	info, err := s.cache.get(ctx, s.config.StaleBuffer, s.config.ExpiredBuffer, func(ctx context.Context) (*cvapi.TokenInfo, error) {
		return s.tokenManager.JWTGrant(ctx, s.subjectType, s.subjectID, opts)
	})
	if err != nil {
		return "", fmt.Errorf("getting app auth access token: %w", err)
	}

	return info.AccessToken, nil
}

// RevokeTokens implements Session.RevokeTokens.
func (s *AppAuthSession) RevokeTokens(ctx context.Context, opts *RequestOptions) error {
	info := s.cache.token()
	if info == nil {
		return nil
	}

	s.cache.clear()

	return s.tokenManager.Revoke(ctx, info.AccessToken, opts)
}

// ExchangeToken implements Session.ExchangeToken.
func (s *AppAuthSession) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	accessToken, err := s.GetAccessToken(ctx, opts)
	if err != nil {
		return nil, err
	}

	return s.tokenManager.ExchangeToken(ctx, accessToken, scopes, resourceURL, actor, opts)
}

// HandleExpiredTokensError implements ExpiredTokensHandler by dropping the
// cached token so the next call issues a fresh assertion.
func (s *AppAuthSession) HandleExpiredTokensError(ctx context.Context, cause error) error {
	s.cache.clear()

	return cause
}
