package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// PersistentSession holds a refresh token and uses it to keep a valid access
// token on hand, optionally synchronizing through a shared TokenStore so
// several processes can act for the same user without invalidating each
// other's refresh tokens.
type PersistentSession struct {
	config       *cvapi.Config
	tokenManager *TokenManager
	store        cvapi.TokenStore
	cache        tokenCache
}

// NewPersistentSession creates a refresh-token session. tokenInfo seeds the
// in-memory cache and may be nil when a store is supplied; store may be nil
// for single-process use.
func NewPersistentSession(config *cvapi.Config, tokenManager *TokenManager, tokenInfo *cvapi.TokenInfo, store cvapi.TokenStore) *PersistentSession {
	session := &PersistentSession{
		config:       config,
		tokenManager: tokenManager,
		store:        store,
	}
	if tokenInfo != nil {
		session.cache.set(tokenInfo)
	}

	return session
}

// GetAccessToken implements Session.GetAccessToken. Stale tokens are served
// while a refresh runs behind them; tokens near expiry block on the refresh.
// Concurrent callers share one refresh.
func (s *PersistentSession) GetAccessToken(ctx context.Context, opts *RequestOptions) (string, error) {
	info, err := s.cache.get(ctx, s.config.StaleBuffer, s.config.ExpiredBuffer, func(ctx context.Context) (*cvapi.TokenInfo, error) {
		return s.refresh(ctx, opts)
	})
	if err != nil {
		return "", err
	}

	return info.AccessToken, nil
}

// RevokeTokens implements Session.RevokeTokens. The cached tokens and any
// store entry are dropped even when the revocation call itself fails.
func (s *PersistentSession) RevokeTokens(ctx context.Context, opts *RequestOptions) error {
	info := s.cache.token()
	s.cache.clear()

	var revokeErr error
	if info != nil {
		revokeErr = s.tokenManager.Revoke(ctx, info.AccessToken, opts)
	}

	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing token store: %w", err)
		}
	}

	return revokeErr
}

// ExchangeToken implements Session.ExchangeToken.
func (s *PersistentSession) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	accessToken, err := s.GetAccessToken(ctx, opts)
	if err != nil {
		return nil, err
	}

	return s.tokenManager.ExchangeToken(ctx, accessToken, scopes, resourceURL, actor, opts)
}

// HandleExpiredTokensError implements ExpiredTokensHandler. The cached
// tokens and any store entry are dropped so the session does not keep
// replaying credentials the API has already rejected.
func (s *PersistentSession) HandleExpiredTokensError(ctx context.Context, cause error) error {
	s.cache.clear()

	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("clearing token store: %w", err)
		}
	}

	return cause
}

// refresh produces a fresh token set for the cache. When the session was
// constructed without tokens it first consults the store.
func (s *PersistentSession) refresh(ctx context.Context, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	refreshToken := ""
	if current := s.cache.token(); current != nil {
		refreshToken = current.RefreshToken
	}

	if refreshToken == "" && s.store != nil {
		stored, err := s.store.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading token store: %w", err)
		}

		if stored != nil {
			if stored.Valid(s.config.StaleBuffer) {
				return stored, nil
			}

			refreshToken = stored.RefreshToken
		}
	}

	return s.refreshWith(ctx, refreshToken, opts, true)
}

// refreshWith performs the refresh grant and reconciles a rejection against
// the store. When the store holds a different refresh token, another process
// refreshed first and our token was invalidated by rotation; the stored
// tokens are adopted instead of failing the session. retryStored guards
// against reconciling more than once. A genuine rejection clears the cached
// tokens so later calls fail fast instead of replaying the dead refresh
// token.
func (s *PersistentSession) refreshWith(ctx context.Context, refreshToken string, opts *RequestOptions, retryStored bool) (*cvapi.TokenInfo, error) {
	info, err := s.tokenManager.RefreshTokenGrant(ctx, refreshToken, opts)
	if err == nil {
		if s.store != nil {
			if werr := s.store.Write(ctx, info); werr != nil {
				return nil, fmt.Errorf("persisting refreshed tokens: %w", werr)
			}
		}

		return info, nil
	}

	if !isGrantRejection(err) {
		return nil, err
	}

	if s.store == nil {
		s.cache.clear()

		return nil, asExpiredAuth(err)
	}

	stored, readErr := s.store.Read(ctx)
	if readErr != nil {
		return nil, fmt.Errorf("reading token store after refresh rejection: %w", readErr)
	}

	if stored == nil || stored.RefreshToken == "" || stored.RefreshToken == refreshToken {
		s.cache.clear()

		if cerr := s.store.Clear(ctx); cerr != nil {
			return nil, fmt.Errorf("clearing token store after refresh rejection: %w", cerr)
		}

		return nil, asExpiredAuth(err)
	}

	if stored.Valid(s.config.StaleBuffer) {
		return stored, nil
	}

	if !retryStored {
		s.cache.clear()

		return nil, asExpiredAuth(err)
	}

	return s.refreshWith(ctx, stored.RefreshToken, opts, false)
}

// isGrantRejection reports whether the API rejected the grant itself, as
// opposed to a transport failure or a server-side error.
func isGrantRejection(err error) bool {
	if cvapi.IsExpiredAuth(err) {
		return true
	}

	unexpected := &cvapi.UnexpectedResponseError{}
	if !errors.As(err, &unexpected) {
		return false
	}

	status := unexpected.StatusCode()

	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

// asExpiredAuth normalizes a grant rejection to ExpiredAuthError so callers
// see one terminal error type regardless of how the API phrased the refusal.
func asExpiredAuth(err error) error {
	if cvapi.IsExpiredAuth(err) {
		return err
	}

	unexpected := &cvapi.UnexpectedResponseError{}
	if errors.As(err, &unexpected) {
		return &cvapi.ExpiredAuthError{
			Response:    unexpected.Response,
			Description: "refresh token was rejected",
		}
	}

	return err
}
