package cvapi

import (
	"time"
)

// TokenInfo holds the result of a successful token grant. It is immutable
// once created; a refresh always produces a new TokenInfo.
type TokenInfo struct {
	AccessToken    string        `json:"access_token"            yaml:"access_token"`
	RefreshToken   string        `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"        yaml:"access_token_ttl"`
	AcquiredAt     time.Time     `json:"acquired_at"             yaml:"acquired_at"`
}

// ExpiresAt returns the instant at which the access token stops being usable.
func (t *TokenInfo) ExpiresAt() time.Time {
	return t.AcquiredAt.Add(t.AccessTokenTTL)
}

// Valid reports whether the access token is still usable with the given
// safety buffer subtracted from its lifetime. A TokenInfo missing either
// timing field is never valid, regardless of buffer.
func (t *TokenInfo) Valid(buffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}

	if t.AcquiredAt.IsZero() || t.AccessTokenTTL == 0 {
		return false
	}

	return time.Now().Before(t.AcquiredAt.Add(t.AccessTokenTTL - buffer))
}

// Response represents a buffered API response.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Header returns the first value for the named response header.
func (r *Response) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}

	values := r.Headers[name]
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// Event represents one entry from the event log.
type Event struct {
	Type      string                 `json:"type"                 yaml:"type"`
	EventID   string                 `json:"event_id"             yaml:"event_id"`
	EventType string                 `json:"event_type"           yaml:"event_type"`
	CreatedAt string                 `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	CreatedBy map[string]interface{} `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Source    map[string]interface{} `json:"source,omitempty"     yaml:"source,omitempty"`
}

// EventCollection is the wire shape of the events-by-cursor endpoints.
type EventCollection struct {
	ChunkSize          int     `json:"chunk_size"           yaml:"chunk_size"`
	Entries            []Event `json:"entries"              yaml:"entries"`
	NextStreamPosition string  `json:"next_stream_position" yaml:"next_stream_position"`
}

// LongPollInfo describes the realtime long-poll server handed out by the
// events endpoint: where to connect, how long a poll may block, and how many
// polls may be issued against the same URL before it must be refetched.
type LongPollInfo struct {
	URL          string `json:"url"           yaml:"url"`
	RetryTimeout int    `json:"retry_timeout" yaml:"retry_timeout"`
	MaxRetries   int    `json:"max_retries"   yaml:"max_retries"`
}

// UploadSession is the server-negotiated state for a chunked upload.
type UploadSession struct {
	ID               string `json:"id"                 yaml:"id"`
	PartSize         int64  `json:"part_size"          yaml:"part_size"`
	TotalParts       int    `json:"total_parts"        yaml:"total_parts"`
	NumPartsUploaded int    `json:"num_parts_uploaded" yaml:"num_parts_uploaded"`
}

// UploadPart describes one committed part of a chunked upload.
type UploadPart struct {
	PartID string `json:"part_id" yaml:"part_id"`
	Offset int64  `json:"offset"  yaml:"offset"`
	Size   int64  `json:"size"    yaml:"size"`
	SHA1   string `json:"sha1"    yaml:"sha1"`
}

// BatchRequest is one sub-request of a composite batch call.
type BatchRequest struct {
	Method      string            `json:"method"`
	RelativeURL string            `json:"relative_url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        interface{}       `json:"body,omitempty"`
}

// BatchResponse is one positional sub-response of a composite batch call.
type BatchResponse struct {
	Status   int                    `json:"status"`
	Headers  map[string]string      `json:"headers,omitempty"`
	Response map[string]interface{} `json:"response,omitempty"`
}
