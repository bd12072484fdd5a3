package constants

import "time"

// Default API endpoints.
const (
	// DefaultAPIRoot is the base URL for API and OAuth2 endpoints.
	DefaultAPIRoot = "https://api.cloudvault.io"

	// DefaultUploadAPIRoot is the base URL for upload-session endpoints.
	DefaultUploadAPIRoot = "https://upload.cloudvault.io/api"

	// DefaultAPIVersion is the path segment for resource endpoints.
	DefaultAPIVersion = "2.0"
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for a single HTTP attempt.
	DefaultHTTPTimeout = 60 * time.Second

	// ShortHTTPTimeout is used for quick operations.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultMaxRetries is the default number of retries after the initial
	// attempt for transient request failures.
	DefaultMaxRetries = 5

	// DefaultRetryInterval is the fixed delay between request retries.
	DefaultRetryInterval = 2 * time.Second
)

// Token freshness windows.
const (
	// DefaultExpiredBuffer is subtracted from a token's lifetime when deciding
	// whether it may still be attached to a request.
	DefaultExpiredBuffer = 30 * time.Second

	// DefaultStaleBuffer is the proactive-refresh window for refreshable
	// sessions.
	DefaultStaleBuffer = 5 * time.Minute

	// DefaultAssertionExpiration bounds the exp claim of app-auth assertions.
	DefaultAssertionExpiration = 30 * time.Second
)

// Event stream tuning.
const (
	// DefaultEventFetchInterval is the minimum delay between consecutive
	// event fetches.
	DefaultEventFetchInterval = 1 * time.Second

	// DefaultStreamRetryDelay is how long a stream waits after an error
	// before resuming.
	DefaultStreamRetryDelay = 1 * time.Second

	// DefaultDedupLimit bounds the delivered-event dedup set.
	DefaultDedupLimit = 5000

	// DefaultEventChunkSize is the page size for event fetches.
	DefaultEventChunkSize = 500

	// DefaultPollingInterval is the admin-log polling delay on empty pages.
	DefaultPollingInterval = 60 * time.Second
)

// Chunked upload tuning.
const (
	// DefaultUploadParallelism bounds concurrent part uploads.
	DefaultUploadParallelism = 4

	// DefaultPartRetryInterval is the fixed delay before re-uploading a part
	// after a transport failure.
	DefaultPartRetryInterval = 1 * time.Second
)
