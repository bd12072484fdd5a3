// Package http implements the request-execution core: default request
// configuration, transient-failure classification with bounded fixed-delay
// retries, credential redaction on terminal errors, and outcome broadcast to
// registered observers.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cloudvault-io/cvapi/internal/constants"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Header names with special handling in the request core.
const (
	HeaderAuthorization = "Authorization"
	HeaderSharedLink    = "X-Vault-Shared-Link"
	HeaderAsUser        = "As-User"
	HeaderForwardedFor  = "X-Forwarded-For"
)

// Request describes one API call before execution.
type Request struct {
	Method  string
	URL     string // absolute, or a path resolved against the client base URL
	Query   url.Values
	Headers map[string]string

	// Body is JSON-marshaled. Form wins over Body; Raw wins over both.
	Body        interface{}
	Form        url.Values
	Raw         io.Reader
	ContentType string

	// NoRetry bypasses the retry loop for bodies that cannot be replayed
	// (multipart and raw streams).
	NoRetry bool
}

// Response is an alias re-exported for the façade layer.
type Response = cvapi.Response

// Outcome is broadcast to observers after every call, success or failure.
type Outcome struct {
	Request  cvapi.RequestInfo
	Response *cvapi.Response
	Err      error
}

// Observer receives every request outcome.
type Observer func(Outcome)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger cvapi.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithRetryConfig sets the retry budget and the fixed delay between attempts.
func WithRetryConfig(maxRetries int, interval time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryInterval = interval
	}
}

// WithTimeout bounds each individual HTTP attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithObserver registers an outcome observer at construction time.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observers = append(c.observers, observer)
	}
}

// Client executes HTTP calls with uniform retry and error classification.
type Client struct {
	baseURL       string
	userAgent     string
	logger        cvapi.Logger
	debug         bool
	maxRetries    int
	retryInterval time.Duration
	timeout       time.Duration

	retry  *retryablehttp.Client
	plain  *http.Client
	stream *http.Client

	mu        sync.RWMutex
	observers []Observer
}

// retriesExhaustedError marks failures that consumed the whole retry budget.
type retriesExhaustedError struct {
	err      error
	attempts int
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.attempts, e.err)
}

func (e *retriesExhaustedError) Unwrap() error {
	return e.err
}

// NewClient creates a new request client for the given base URL.
func NewClient(baseURL string, options ...Option) *Client {
	client := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		userAgent:     "cvapi-go",
		maxRetries:    constants.DefaultMaxRetries,
		retryInterval: constants.DefaultRetryInterval,
		timeout:       constants.DefaultHTTPTimeout,
	}

	for _, option := range options {
		option(client)
	}

	retry := retryablehttp.NewClient()
	retry.Logger = nil
	retry.RetryMax = client.maxRetries
	retry.RetryWaitMin = client.retryInterval
	retry.RetryWaitMax = client.retryInterval
	retry.HTTPClient.Timeout = client.timeout
	retry.CheckRetry = checkRetry
	retry.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return client.retryInterval
	}
	retry.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if err == nil {
				err = fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
			}
		}

		return nil, &retriesExhaustedError{err: err, attempts: numTries}
	}

	client.retry = retry
	client.plain = &http.Client{Timeout: client.timeout}
	client.stream = &http.Client{}

	return client
}

// checkRetry classifies a single attempt. A response is transient when its
// status is 5xx excluding 507 (insufficient storage signals a permanent
// account-capacity problem), 408, or 429. Network-level failures are
// transient unless the context is done.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return true, nil
	}

	return IsTemporaryStatus(resp.StatusCode), nil
}

// IsTemporaryStatus reports whether a status code indicates a transient
// failure worth retrying.
func IsTemporaryStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}

	return status >= 500 && status != http.StatusInsufficientStorage
}

// AddObserver registers an outcome observer.
func (c *Client) AddObserver(observer Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, observer)
}

func (c *Client) notify(outcome Outcome) {
	c.mu.RLock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	for _, observer := range observers {
		observer(outcome)
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolveURL joins a request path with the base URL.
func (c *Client) resolveURL(req *Request) string {
	if strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://") {
		return req.URL
	}

	target := c.baseURL + "/" + strings.TrimPrefix(req.URL, "/")

	return target
}

// encodeBody returns the request body bytes and content type.
func encodeBody(req *Request) (io.Reader, string, error) {
	switch {
	case req.Raw != nil:
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		return req.Raw, contentType, nil

	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil

	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling request body: %w", err)
		}

		return bytes.NewReader(data), "application/json", nil

	default:
		return nil, "", nil
	}
}

// buildRequest constructs the concrete http.Request and a sanitized snapshot
// for error reporting.
func (c *Client) buildRequest(ctx context.Context, req *Request) (*http.Request, cvapi.RequestInfo, error) {
	target := c.resolveURL(req)
	if len(req.Query) > 0 {
		separator := "?"
		if strings.Contains(target, "?") {
			separator = "&"
		}

		target += separator + req.Query.Encode()
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, cvapi.RequestInfo{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, cvapi.RequestInfo{}, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, sanitizeRequest(httpReq), nil
}

// sanitizeRequest snapshots a request with credential headers redacted, so
// the snapshot can travel on errors without leaking secrets into logs.
func sanitizeRequest(httpReq *http.Request) cvapi.RequestInfo {
	headers := make(map[string]string, len(httpReq.Header))

	for key := range httpReq.Header {
		switch key {
		case HeaderAuthorization, HeaderSharedLink:
			headers[key] = cvapi.RedactedValue
		default:
			headers[key] = httpReq.Header.Get(key)
		}
	}

	return cvapi.RequestInfo{
		Method:  httpReq.Method,
		URL:     httpReq.URL.String(),
		Headers: headers,
	}
}

// Do executes the request with the retry policy and returns a buffered
// response. Any HTTP status is returned as a response, not an error; errors
// indicate a network failure or an exhausted retry budget.
func (c *Client) Do(ctx context.Context, req *Request) (*cvapi.Response, error) {
	httpReq, info, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": info.Method,
			"url":    info.URL,
		})
	}

	var httpResp *http.Response

	if req.NoRetry {
		httpResp, err = c.plain.Do(httpReq)
	} else {
		var retryReq *retryablehttp.Request

		retryReq, err = retryablehttp.FromRequest(httpReq)
		if err == nil {
			httpResp, err = c.retry.Do(retryReq)
		}
	}

	if err != nil {
		reqErr := classifyRequestFailure(info, err)
		c.notify(Outcome{Request: info, Err: reqErr})

		return nil, reqErr
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		reqErr := &cvapi.RequestError{Request: info, Err: fmt.Errorf("reading response body: %w", err)}
		c.notify(Outcome{Request: info, Err: reqErr})

		return nil, reqErr
	}

	resp := &cvapi.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method":      info.Method,
			"url":         info.URL,
			"status_code": resp.StatusCode,
		})
	}

	c.notify(Outcome{Request: info, Response: resp})

	return resp, nil
}

// classifyRequestFailure wraps a transport-layer failure with the sanitized
// request and the retries-exhausted flag.
func classifyRequestFailure(info cvapi.RequestInfo, err error) *cvapi.RequestError {
	exhausted := &retriesExhaustedError{}
	if errors.As(err, &exhausted) {
		return &cvapi.RequestError{
			Request:            info,
			Err:                exhausted.err,
			MaxRetriesExceeded: true,
		}
	}

	return &cvapi.RequestError{Request: info, Err: err}
}

// DoPoll executes the request on a transport with no overall timeout and
// returns a buffered response. Long-poll calls are expected to block longer
// than the per-attempt timeout allows; the caller bounds them through ctx.
func (c *Client) DoPoll(ctx context.Context, req *Request) (*cvapi.Response, error) {
	httpReq, info, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.stream.Do(httpReq)
	if err != nil {
		reqErr := &cvapi.RequestError{Request: info, Err: err}
		c.notify(Outcome{Request: info, Err: reqErr})

		return nil, reqErr
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		reqErr := &cvapi.RequestError{Request: info, Err: fmt.Errorf("reading response body: %w", err)}
		c.notify(Outcome{Request: info, Err: reqErr})

		return nil, reqErr
	}

	resp := &cvapi.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	c.notify(Outcome{Request: info, Response: resp})

	return resp, nil
}

// DoStream executes the request without the retry wrapper and returns the
// live network response; the caller owns the body.
func (c *Client) DoStream(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, info, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.stream.Do(httpReq)
	if err != nil {
		reqErr := &cvapi.RequestError{Request: info, Err: err}
		c.notify(Outcome{Request: info, Err: reqErr})

		return nil, reqErr
	}

	return httpResp, nil
}

// Get issues a GET request against a path.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: path, Query: query, Headers: headers})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, URL: path, Body: body, Headers: headers})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, URL: path, Body: body, Headers: headers})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URL: path, Headers: headers})
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, path string, headers map[string]string) (*cvapi.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodOptions, URL: path, Headers: headers})
}
