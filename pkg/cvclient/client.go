package cvclient

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/cloudvault-io/cvapi/internal/auth"
	"github.com/cloudvault-io/cvapi/internal/client"
	"github.com/cloudvault-io/cvapi/internal/constants"
	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// SubjectType selects the identity a server-side app authenticates as.
type SubjectType = auth.SubjectType

// ActorParams names an external identity to impersonate in a token exchange.
type ActorParams = auth.ActorParams

// Subject types for app-auth clients.
const (
	SubjectEnterprise = auth.SubjectEnterprise
	SubjectUser       = auth.SubjectUser
)

// Client is the public API client. It attaches a fresh access token from its
// session to every call and exposes the batch, event-stream, and chunked
// upload engines.
type Client struct {
	config  *cvapi.Config
	session auth.Session
	inner   *client.Client
}

// NewWithDeveloperToken creates a client around a fixed access token. The
// token is never refreshed; when it expires, calls fail with ExpiredAuthError.
func NewWithDeveloperToken(config *cvapi.Config, accessToken string) (*Client, error) {
	if accessToken == "" {
		return nil, cvapi.ErrAccessTokenRequired
	}

	merged, err := normalizeConfig(config, false)
	if err != nil {
		return nil, err
	}

	tokenManager, api, upload := buildCore(merged)
	session := auth.NewBasicSession(accessToken, tokenManager)

	return assemble(merged, session, api, upload), nil
}

// NewAnonymous creates a client that authenticates with the client-credentials
// grant, holding application-scoped tokens that refresh automatically.
func NewAnonymous(config *cvapi.Config) (*Client, error) {
	merged, err := normalizeConfig(config, true)
	if err != nil {
		return nil, err
	}

	tokenManager, api, upload := buildCore(merged)
	session := auth.NewAnonymousSession(merged, tokenManager)

	return assemble(merged, session, api, upload), nil
}

// NewWithAppAuth creates a client that authenticates as an enterprise or
// managed user via signed JWT assertions. Requires AppAuth key material in
// the config.
func NewWithAppAuth(config *cvapi.Config, subjectType SubjectType, subjectID string) (*Client, error) {
	merged, err := normalizeConfig(config, true)
	if err != nil {
		return nil, err
	}

	if merged.AppAuth == nil || len(merged.AppAuth.PrivateKey) == 0 {
		return nil, cvapi.ErrAppAuthRequired
	}

	tokenManager, api, upload := buildCore(merged)
	session := auth.NewAppAuthSession(merged, tokenManager, subjectType, subjectID)

	return assemble(merged, session, api, upload), nil
}

// NewPersistent creates a client that acts for one user via a refresh token.
// tokenInfo seeds the session and may be nil when a store holds the tokens;
// store may be nil for single-process use.
func NewPersistent(config *cvapi.Config, tokenInfo *cvapi.TokenInfo, store cvapi.TokenStore) (*Client, error) {
	merged, err := normalizeConfig(config, true)
	if err != nil {
		return nil, err
	}

	if tokenInfo == nil && store == nil {
		return nil, cvapi.ErrRefreshTokenRequired
	}

	tokenManager, api, upload := buildCore(merged)
	session := auth.NewPersistentSession(merged, tokenManager, tokenInfo, store)

	return assemble(merged, session, api, upload), nil
}

// AuthorizeWithCode exchanges an authorization code for tokens, typically to
// seed a persistent client after the user completes the consent flow.
func AuthorizeWithCode(ctx context.Context, config *cvapi.Config, code string) (*cvapi.TokenInfo, error) {
	merged, err := normalizeConfig(config, true)
	if err != nil {
		return nil, err
	}

	tokenManager, _, _ := buildCore(merged)

	return tokenManager.AuthorizationCodeGrant(ctx, code, nil)
}

func buildCore(config *cvapi.Config) (*auth.TokenManager, *http.Client, *http.Client) {
	options := []http.Option{
		http.WithRetryConfig(config.MaxRetries, config.RetryInterval),
		http.WithTimeout(config.HTTPTimeout),
	}

	if config.Logger != nil {
		options = append(options, http.WithLogger(config.Logger), http.WithDebug(config.Debug))
	}

	if config.UserAgent != "" {
		options = append(options, http.WithUserAgent(config.UserAgent))
	}

	api := http.NewClient(config.APIRoot, options...)
	upload := http.NewClient(config.UploadAPIRoot, options...)
	tokenManager := auth.NewTokenManager(config, api)

	return tokenManager, api, upload
}

func assemble(config *cvapi.Config, session auth.Session, api, upload *http.Client) *Client {
	return &Client{
		config:  config,
		session: session,
		inner:   client.New(config, session, api, upload),
	}
}

// normalizeConfig validates the config and fills in defaults without
// mutating the caller's copy.
func normalizeConfig(config *cvapi.Config, needsCredentials bool) (*cvapi.Config, error) {
	if config == nil {
		return nil, cvapi.ErrConfigRequired
	}

	if needsCredentials && (config.ClientID == "" || config.ClientSecret == "") {
		return nil, cvapi.ErrClientCredentialsRequired
	}

	merged := config.Extend(nil)

	if merged.APIRoot == "" {
		merged.APIRoot = constants.DefaultAPIRoot
	}

	if !strings.Contains(merged.APIRoot, "://") {
		merged.APIRoot = "https://" + merged.APIRoot
	}

	merged.APIRoot = strings.TrimSuffix(merged.APIRoot, "/")

	if merged.UploadAPIRoot == "" {
		if merged.APIRoot == constants.DefaultAPIRoot {
			merged.UploadAPIRoot = constants.DefaultUploadAPIRoot
		} else {
			merged.UploadAPIRoot = merged.APIRoot
		}
	}

	merged.UploadAPIRoot = strings.TrimSuffix(merged.UploadAPIRoot, "/")

	if merged.APIVersion == "" {
		merged.APIVersion = constants.DefaultAPIVersion
	}

	if merged.ExpiredBuffer == 0 {
		merged.ExpiredBuffer = constants.DefaultExpiredBuffer
	}

	if merged.StaleBuffer == 0 {
		merged.StaleBuffer = constants.DefaultStaleBuffer
	}

	if merged.MaxRetries == 0 {
		merged.MaxRetries = constants.DefaultMaxRetries
	}

	if merged.RetryInterval == 0 {
		merged.RetryInterval = constants.DefaultRetryInterval
	}

	if merged.HTTPTimeout == 0 {
		merged.HTTPTimeout = constants.DefaultHTTPTimeout
	}

	return merged, nil
}

// Config returns the client's normalized configuration.
func (c *Client) Config() *cvapi.Config {
	return c.config
}

// Get issues a GET against a versioned resource path.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*cvapi.Response, error) {
	return c.inner.Get(ctx, path, query, headers)
}

// Post issues a POST with a JSON body against a versioned resource path.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.inner.Post(ctx, path, body, headers)
}

// Put issues a PUT with a JSON body against a versioned resource path.
func (c *Client) Put(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.inner.Put(ctx, path, body, headers)
}

// Delete issues a DELETE against a versioned resource path.
func (c *Client) Delete(ctx context.Context, path string, headers map[string]string) (*cvapi.Response, error) {
	return c.inner.Delete(ctx, path, headers)
}

// RevokeTokens invalidates the session's tokens with the server.
func (c *Client) RevokeTokens(ctx context.Context) error {
	return c.session.RevokeTokens(ctx, nil)
}

// ExchangeToken downscopes the session's current access token to narrower
// scopes and, optionally, a specific resource URL. actor, when non-nil,
// impersonates an external identity in the exchanged token. The session's own
// tokens are unaffected.
func (c *Client) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *ActorParams) (*cvapi.TokenInfo, error) {
	if len(scopes) == 0 {
		return nil, cvapi.ErrScopesRequired
	}

	return c.session.ExchangeToken(ctx, scopes, resourceURL, actor, nil)
}

// Batch starts a batch that queues calls for one composite network request.
func (c *Client) Batch() *Batch {
	return c.inner.Batch()
}

// EventStream creates a pull iterator over the user event log.
func (c *Client) EventStream(options ...EventStreamOption) *EventStream {
	return c.inner.NewEventStream(options...)
}

// EnterpriseEventStream creates a pull iterator over the enterprise admin
// log.
func (c *Client) EnterpriseEventStream(options ...EnterpriseEventStreamOption) *EnterpriseEventStream {
	return c.inner.NewEnterpriseEventStream(options...)
}

// CreateUploadSession negotiates a chunked upload session.
func (c *Client) CreateUploadSession(ctx context.Context, folderID, fileName string, fileSize int64) (*cvapi.UploadSession, error) {
	return c.inner.CreateUploadSession(ctx, folderID, fileName, fileSize)
}

// ChunkedUploader creates an uploader for an existing upload session.
func (c *Client) ChunkedUploader(session *cvapi.UploadSession, source io.Reader, fileSize int64, options ...ChunkedUploaderOption) *ChunkedUploader {
	return c.inner.NewChunkedUploader(session, source, fileSize, options...)
}
