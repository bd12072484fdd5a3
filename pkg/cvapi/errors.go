package cvapi

import (
	"errors"
	"fmt"
	"strings"
)

// RedactedValue replaces credential-bearing header values on errors so they
// never leak into logs.
const RedactedValue = "[REDACTED]"

// Static errors for err113 compliance.
var (
	ErrConfigRequired              = errors.New("config is required")
	ErrClientCredentialsRequired   = errors.New("client ID and client secret are required")
	ErrAccessTokenRequired         = errors.New("access token is required")
	ErrAppAuthRequired             = errors.New("app auth key material is required")
	ErrRefreshTokenRequired        = errors.New("refresh token is required")
	ErrAuthorizationCodeRequired   = errors.New("authorization code is required")
	ErrTokenStoreConflict          = errors.New("token store holds the refresh token that just failed")
	ErrUploadSessionNotCommittable = errors.New("upload session has parts outstanding")
	ErrUploadAborted               = errors.New("upload aborted")
	ErrBatchAlreadyExecuted        = errors.New("batch has already been executed")
	ErrBatchNotExecuted            = errors.New("batch has not been executed")
	ErrScopesRequired              = errors.New("at least one scope is required")
	ErrStreamEnded                 = errors.New("event stream ended")
)

// RequestInfo is a sanitized snapshot of an outbound request attached to
// terminal request errors. Credential headers are overwritten with
// RedactedValue before the snapshot is taken.
type RequestInfo struct {
	Method  string
	URL     string
	Headers map[string]string
}

// RequestError represents a failure at the request-execution layer: a network
// error or a transient status that survived every retry.
type RequestError struct {
	Request            RequestInfo
	Err                error
	MaxRetriesExceeded bool
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	msg := fmt.Sprintf("request %s %s failed", e.Request.Method, e.Request.URL)
	if e.MaxRetriesExceeded {
		msg += " after exhausting retries"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// UnexpectedResponseError represents a response whose status or body did not
// match any more specific classification. It carries the response so the
// caller can inspect it.
type UnexpectedResponseError struct {
	Response *Response
}

// Error implements the error interface.
func (e *UnexpectedResponseError) Error() string {
	if e.Response == nil {
		return "unexpected API response"
	}

	return fmt.Sprintf("unexpected API response [%d]", e.Response.StatusCode)
}

// StatusCode returns the response status, or 0 when no response was captured.
func (e *UnexpectedResponseError) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// ExpiredAuthError indicates the grant used to authenticate (refresh token,
// authorization code, or assertion) was rejected as invalid_grant, or the
// session concluded its tokens are unrecoverably expired.
type ExpiredAuthError struct {
	Response    *Response
	Description string
}

// Error implements the error interface.
func (e *ExpiredAuthError) Error() string {
	msg := "expired auth: grant is no longer valid"
	if e.Description != "" {
		msg += ": " + e.Description
	}

	return msg
}

// InvalidTokenFormatError indicates a 2xx grant response missing required
// fields.
type InvalidTokenFormatError struct {
	Missing []string
}

// Error implements the error interface.
func (e *InvalidTokenFormatError) Error() string {
	return "token grant response missing required fields: " + strings.Join(e.Missing, ", ")
}

// IsExpiredAuth checks whether the error indicates permanently expired auth.
func IsExpiredAuth(err error) bool {
	expired := &ExpiredAuthError{}

	return errors.As(err, &expired)
}

// IsUnexpectedResponse checks whether the error carries an unclassified API
// response, optionally matching a status code (0 matches any).
func IsUnexpectedResponse(err error, status int) bool {
	unexpected := &UnexpectedResponseError{}
	if !errors.As(err, &unexpected) {
		return false
	}

	return status == 0 || unexpected.StatusCode() == status
}

// MaxRetriesExceeded checks whether the error is a request failure that
// exhausted the retry budget.
func MaxRetriesExceeded(err error) bool {
	reqErr := &RequestError{}
	if !errors.As(err, &reqErr) {
		return false
	}

	return reqErr.MaxRetriesExceeded
}
