// Package client implements the per-call API façade: it resolves an access
// token from the bound session for every outbound request, layers headers,
// detects token-expiry 401s, and hosts the batch, event-stream, and chunked
// upload engines built on top of the request core.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudvault-io/cvapi/internal/auth"
	"github.com/cloudvault-io/cvapi/internal/constants"
	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Client is the per-call API façade bound to one session.
type Client struct {
	config  *cvapi.Config
	session auth.Session
	api     *http.Client
	upload  *http.Client
}

// New creates a client bound to the given session. api carries resource and
// OAuth traffic; upload carries upload-session traffic and may equal api.
func New(config *cvapi.Config, session auth.Session, api, upload *http.Client) *Client {
	if upload == nil {
		upload = api
	}

	return &Client{
		config:  config,
		session: session,
		api:     api,
		upload:  upload,
	}
}

// Config returns the client's configuration.
func (c *Client) Config() *cvapi.Config {
	return c.config
}

// Session returns the session the client attaches tokens from.
func (c *Client) Session() auth.Session {
	return c.session
}

// Stream tuning defaults, overridable per stream via options.
func (c *Client) eventFetchInterval() time.Duration { return constants.DefaultEventFetchInterval }
func (c *Client) streamRetryDelay() time.Duration   { return constants.DefaultStreamRetryDelay }
func (c *Client) dedupLimit() int                   { return constants.DefaultDedupLimit }
func (c *Client) eventChunkSize() int               { return constants.DefaultEventChunkSize }

// requestOptions carries the configured client IPs through to token grants.
func (c *Client) requestOptions() *auth.RequestOptions {
	if len(c.config.ClientIPs) == 0 {
		return nil
	}

	return &auth.RequestOptions{IP: strings.Join(c.config.ClientIPs, ", ")}
}

// apiPath prefixes a resource path with the API version segment.
func (c *Client) apiPath(path string) string {
	return "/" + c.config.APIVersion + "/" + strings.TrimPrefix(path, "/")
}

// layerHeaders builds the outbound header set: the bearer token first, then
// the client's custom headers, then caller-supplied headers, so the caller
// wins on conflicts.
func (c *Client) layerHeaders(token string, caller map[string]string) map[string]string {
	headers := make(map[string]string, 2+len(c.config.CustomHeaders)+len(caller))
	headers[http.HeaderAuthorization] = "Bearer " + token

	if len(c.config.ClientIPs) > 0 {
		headers[http.HeaderForwardedFor] = strings.Join(c.config.ClientIPs, ", ")
	}

	for key, value := range c.config.CustomHeaders {
		headers[key] = value
	}

	for key, value := range caller {
		headers[key] = value
	}

	return headers
}

// Do executes a request against the resource API with a fresh access token
// attached.
func (c *Client) Do(ctx context.Context, req *http.Request) (*cvapi.Response, error) {
	return c.do(ctx, c.api, req, false)
}

// DoUpload executes a request against the upload API.
func (c *Client) DoUpload(ctx context.Context, req *http.Request) (*cvapi.Response, error) {
	return c.do(ctx, c.upload, req, false)
}

// DoPoll executes a long-poll request with no overall timeout; the caller
// bounds it through ctx.
func (c *Client) DoPoll(ctx context.Context, req *http.Request) (*cvapi.Response, error) {
	return c.do(ctx, c.api, req, true)
}

func (c *Client) do(ctx context.Context, transport *http.Client, req *http.Request, poll bool) (*cvapi.Response, error) {
	token, err := c.session.GetAccessToken(ctx, c.requestOptions())
	if err != nil {
		return nil, fmt.Errorf("getting access token: %w", err)
	}

	req.Headers = c.layerHeaders(token, req.Headers)

	var resp *cvapi.Response
	if poll {
		resp, err = transport.DoPoll(ctx, req)
	} else {
		resp, err = transport.Do(ctx, req)
	}

	if err != nil {
		return nil, err
	}

	if unauthorizedDueToExpiredToken(resp) {
		expired := &cvapi.ExpiredAuthError{
			Response:    resp,
			Description: "access token was rejected",
		}

		if handler, ok := c.session.(auth.ExpiredTokensHandler); ok {
			return nil, handler.HandleExpiredTokensError(ctx, expired)
		}

		return nil, expired
	}

	return resp, nil
}

// unauthorizedDueToExpiredToken reports whether a 401 indicates an expired
// access token rather than a malformed request. The server returns an empty
// body when the token itself was rejected; a 401 with body content describes
// a request problem and must not trigger token invalidation.
func unauthorizedDueToExpiredToken(resp *cvapi.Response) bool {
	if resp.StatusCode != nethttp.StatusUnauthorized {
		return false
	}

	return len(bytes.TrimSpace(resp.Body)) == 0
}

// Get issues a GET against a versioned resource path.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &http.Request{Method: nethttp.MethodGet, URL: c.apiPath(path), Query: query, Headers: headers})
}

// Post issues a POST with a JSON body against a versioned resource path.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &http.Request{Method: nethttp.MethodPost, URL: c.apiPath(path), Body: body, Headers: headers})
}

// Put issues a PUT with a JSON body against a versioned resource path.
func (c *Client) Put(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &http.Request{Method: nethttp.MethodPut, URL: c.apiPath(path), Body: body, Headers: headers})
}

// Delete issues a DELETE against a versioned resource path.
func (c *Client) Delete(ctx context.Context, path string, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &http.Request{Method: nethttp.MethodDelete, URL: c.apiPath(path), Headers: headers})
}

// OptionsCall issues an OPTIONS against a versioned resource path.
func (c *Client) OptionsCall(ctx context.Context, path string, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &http.Request{Method: nethttp.MethodOptions, URL: c.apiPath(path), Headers: headers})
}

// HandleResponse is the default response wrapper: a 2xx response has its
// body decoded into out (which may be nil to discard it); any other status
// becomes an UnexpectedResponseError carrying the response.
func HandleResponse(resp *cvapi.Response, out interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &cvapi.UnexpectedResponseError{Response: resp}
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}

	return nil
}
