// Package auth implements token acquisition and the session variants that
// cache, refresh, and revoke access tokens under the SDK's four trust models.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// OAuth2 endpoint paths, relative to the API root.
const (
	tokenPath  = "/oauth2/token"
	revokePath = "/oauth2/revoke"
)

// Grant type identifiers sent on the token endpoint.
const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
	grantTypeClientCredentials = "client_credentials"
	grantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantTypeTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"

	tokenTypeAccess = "urn:ietf:params:oauth:token-type:access_token"
	tokenTypeID     = "urn:ietf:params:oauth:token-type:id_token"
)

// SubjectType selects the identity class of a JWT-bearer grant.
type SubjectType string

// App-auth subject types.
const (
	SubjectEnterprise SubjectType = "enterprise"
	SubjectUser       SubjectType = "user"
)

// ActorParams identifies an impersonated caller asserted during token
// exchange via a locally built, unverified actor token.
type ActorParams struct {
	ID   string
	Name string
}

// RequestOptions carries per-call context threaded from the client into
// token grants.
type RequestOptions struct {
	// IP is the original caller's address chain, forwarded so the token
	// endpoint rate-limits and audits against it.
	IP string
}

// TokenManager acquires, exchanges, and revokes OAuth2 tokens. It is
// stateless; sessions own caching and refresh policy.
type TokenManager struct {
	config     *cvapi.Config
	httpClient *http.Client
}

// NewTokenManager creates a token manager using the given request client.
func NewTokenManager(config *cvapi.Config, httpClient *http.Client) *TokenManager {
	return &TokenManager{
		config:     config,
		httpClient: httpClient,
	}
}

// grantResponse is the wire shape of the token endpoint.
type grantResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// getTokens is the single grant primitive: POST form-encoded grant parameters
// plus the app credentials, then classify the response.
func (m *TokenManager) getTokens(ctx context.Context, form url.Values, needsRefreshToken bool, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)

	resp, err := m.httpClient.Do(ctx, &http.Request{
		Method:  nethttp.MethodPost,
		URL:     tokenPath,
		Form:    form,
		Headers: grantHeaders(opts),
	})
	if err != nil {
		return nil, err
	}

	return parseGrantResponse(resp, needsRefreshToken)
}

func grantHeaders(opts *RequestOptions) map[string]string {
	if opts == nil || opts.IP == "" {
		return nil
	}

	return map[string]string{http.HeaderForwardedFor: opts.IP}
}

// parseGrantResponse classifies a token-endpoint response:
//   - 2xx with error == "invalid_grant" in the body: the grant is no longer
//     valid (ExpiredAuthError)
//   - non-2xx, or a body that is not JSON: UnexpectedResponseError
//   - 2xx missing required fields: InvalidTokenFormatError
//   - otherwise: a fresh TokenInfo acquired now
func parseGrantResponse(resp *cvapi.Response, needsRefreshToken bool) (*cvapi.TokenInfo, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &cvapi.UnexpectedResponseError{Response: resp}
	}

	var grant grantResponse

	err := json.Unmarshal(resp.Body, &grant)
	if err != nil {
		return nil, &cvapi.UnexpectedResponseError{Response: resp}
	}

	if grant.Error == "invalid_grant" {
		return nil, &cvapi.ExpiredAuthError{Response: resp, Description: grant.ErrorDescription}
	}

	var missing []string

	if grant.AccessToken == "" {
		missing = append(missing, "access_token")
	}

	if grant.ExpiresIn == 0 {
		missing = append(missing, "expires_in")
	}

	if needsRefreshToken && grant.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}

	if len(missing) > 0 {
		return nil, &cvapi.InvalidTokenFormatError{Missing: missing}
	}

	return &cvapi.TokenInfo{
		AccessToken:    grant.AccessToken,
		RefreshToken:   grant.RefreshToken,
		AccessTokenTTL: time.Duration(grant.ExpiresIn) * time.Second,
		AcquiredAt:     time.Now(),
	}, nil
}

// AuthorizationCodeGrant trades a one-time authorization code for tokens.
// An empty code fails immediately without a network call.
func (m *TokenManager) AuthorizationCodeGrant(ctx context.Context, code string, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	if code == "" {
		return nil, cvapi.ErrAuthorizationCodeRequired
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeAuthorizationCode)
	form.Set("code", code)

	return m.getTokens(ctx, form, true, opts)
}

// RefreshTokenGrant trades a refresh token for a new token pair. An empty
// refresh token fails immediately without a network call.
func (m *TokenManager) RefreshTokenGrant(ctx context.Context, refreshToken string, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	if refreshToken == "" {
		return nil, cvapi.ErrRefreshTokenRequired
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)

	return m.getTokens(ctx, form, true, opts)
}

// ClientCredentialsGrant obtains an application-scoped token with no
// refresh token.
func (m *TokenManager) ClientCredentialsGrant(ctx context.Context, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeClientCredentials)

	return m.getTokens(ctx, form, false, opts)
}

// JWTGrant obtains a token for an enterprise or managed-user identity using
// a locally signed assertion. If the server rejects the assertion's exp claim
// and reports its own clock via the Date header, the assertion is rebuilt
// against the server clock and retried exactly once.
func (m *TokenManager) JWTGrant(ctx context.Context, subjectType SubjectType, subjectID string, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	if m.config.AppAuth == nil {
		return nil, cvapi.ErrAppAuthRequired
	}

	info, err := m.jwtGrantOnce(ctx, subjectType, subjectID, time.Now(), opts)
	if err == nil {
		return info, nil
	}

	serverTime, retryable := expRejectionServerTime(err)
	if !retryable {
		return nil, err
	}

	return m.jwtGrantOnce(ctx, subjectType, subjectID, serverTime, opts)
}

func (m *TokenManager) jwtGrantOnce(ctx context.Context, subjectType SubjectType, subjectID string, now time.Time, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	audience := m.httpClient.BaseURL() + tokenPath

	assertion, err := buildJWTAssertion(m.config.AppAuth, m.config.ClientID, audience, subjectType, subjectID, now)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)

	return m.getTokens(ctx, form, false, opts)
}

// expRejectionServerTime inspects a grant failure for the one retryable JWT
// case: the server rejected the exp claim and exposed its clock in the Date
// response header. Clock skew is tolerated this way without an unbounded
// retry loop.
func expRejectionServerTime(err error) (time.Time, bool) {
	unexpected := &cvapi.UnexpectedResponseError{}
	expired := &cvapi.ExpiredAuthError{}

	var resp *cvapi.Response

	switch {
	case errors.As(err, &unexpected):
		resp = unexpected.Response
	case errors.As(err, &expired):
		resp = expired.Response
	default:
		return time.Time{}, false
	}

	if resp == nil {
		return time.Time{}, false
	}

	var body struct {
		ErrorDescription string `json:"error_description"`
	}

	if json.Unmarshal(resp.Body, &body) != nil {
		return time.Time{}, false
	}

	if !strings.Contains(strings.ToLower(body.ErrorDescription), "exp") {
		return time.Time{}, false
	}

	date := resp.Header("Date")
	if date == "" {
		return time.Time{}, false
	}

	serverTime, parseErr := nethttp.ParseTime(date)
	if parseErr != nil {
		return time.Time{}, false
	}

	return serverTime, true
}

// ExchangeToken downscopes an access token to narrower scopes and/or a
// specific resource URL, optionally asserting an impersonated actor.
// It never touches session state.
func (m *TokenManager) ExchangeToken(ctx context.Context, accessToken string, scopes []string, resourceURL string, actor *ActorParams, opts *RequestOptions) (*cvapi.TokenInfo, error) {
	if accessToken == "" {
		return nil, cvapi.ErrAccessTokenRequired
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("subject_token", accessToken)
	form.Set("subject_token_type", tokenTypeAccess)

	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	if resourceURL != "" {
		form.Set("resource", resourceURL)
	}

	if actor != nil {
		audience := m.httpClient.BaseURL() + tokenPath

		actorToken, err := buildActorAssertion(m.config.ClientID, audience, actor, time.Now())
		if err != nil {
			return nil, err
		}

		form.Set("actor_token", actorToken)
		form.Set("actor_token_type", tokenTypeID)
	}

	return m.getTokens(ctx, form, false, opts)
}

// Revoke invalidates a token pair at the revoke endpoint.
func (m *TokenManager) Revoke(ctx context.Context, token string, opts *RequestOptions) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)

	resp, err := m.httpClient.Do(ctx, &http.Request{
		Method:  nethttp.MethodPost,
		URL:     revokePath,
		Form:    form,
		Headers: grantHeaders(opts),
	})
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &cvapi.UnexpectedResponseError{Response: resp}
	}

	return nil
}
