package cvapi

import (
	"time"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// AppAuthConfig holds the key material for enterprise/user app auth. The
// private key is used locally to sign JWT assertions; it is never sent to the
// server.
type AppAuthConfig struct {
	// KeyID identifies the public key registered with the application; it is
	// sent as the "kid" header of each assertion.
	KeyID string
	// PrivateKey is the PEM-encoded RSA private key.
	PrivateKey []byte
	// Passphrase decrypts PrivateKey when it is passphrase-protected.
	Passphrase string
	// Algorithm is the JWS signing algorithm ("RS256", "RS384", "RS512").
	// Defaults to RS256.
	Algorithm string
	// ExpirationWindow bounds the lifetime of each assertion's exp claim.
	// Defaults to 30 seconds.
	ExpirationWindow time.Duration
}

// Config represents SDK configuration shared by the token manager, sessions,
// and the request layer. It is owned by the cvclient entry point and treated
// as read-only after construction; Extend produces a merged copy instead of
// mutating in place.
type Config struct {
	// ClientID and ClientSecret identify the application to the token and
	// revoke endpoints. Required for every trust model except a plain
	// developer token.
	ClientID     string
	ClientSecret string

	// APIRoot is the base URL for API and OAuth2 endpoints
	// (e.g., "https://api.cloudvault.io"). cvclient normalizes this value by
	// trimming a trailing slash and adding "https://" if no scheme is present.
	APIRoot string
	// UploadAPIRoot is the base URL for upload-session endpoints. Defaults to
	// APIRoot when empty.
	UploadAPIRoot string
	// APIVersion is the path segment for resource endpoints ("2.0").
	APIVersion string

	// ExpiredBuffer is subtracted from a token's lifetime when deciding
	// whether it can still be attached to a request at all. A token inside
	// this window blocks its caller until a refresh resolves.
	ExpiredBuffer time.Duration
	// StaleBuffer is the larger window used by refreshable sessions to renew
	// tokens before they get close to expiry. A token that is stale but not
	// yet inside ExpiredBuffer is served while a refresh runs behind it.
	StaleBuffer time.Duration

	// MaxRetries is the number of automatic retries for transient request
	// failures after the initial attempt.
	MaxRetries int
	// RetryInterval is the fixed delay between request retries.
	RetryInterval time.Duration
	// HTTPTimeout bounds each individual HTTP attempt.
	HTTPTimeout time.Duration

	// AppAuth holds signing key material for JWT-bearer grants.
	AppAuth *AppAuthConfig

	// ClientIPs, when set, is forwarded on every request and token grant via
	// the X-Forwarded-For header so the server rate-limits and audits against
	// the original caller.
	ClientIPs []string

	// CustomHeaders are attached to every outbound API request. Caller-supplied
	// per-request headers win over these.
	CustomHeaders map[string]string

	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// Debug enables verbose HTTP request/response logging when a Logger is set.
	Debug bool
	// Logger is an optional structured logger used by the request layer.
	Logger Logger
}

// Extend returns a new Config with the non-zero fields of overrides merged
// over the receiver. Neither input is mutated.
func (c *Config) Extend(overrides *Config) *Config {
	merged := *c

	if overrides == nil {
		return &merged
	}

	if overrides.ClientID != "" {
		merged.ClientID = overrides.ClientID
	}

	if overrides.ClientSecret != "" {
		merged.ClientSecret = overrides.ClientSecret
	}

	if overrides.APIRoot != "" {
		merged.APIRoot = overrides.APIRoot
	}

	if overrides.UploadAPIRoot != "" {
		merged.UploadAPIRoot = overrides.UploadAPIRoot
	}

	if overrides.APIVersion != "" {
		merged.APIVersion = overrides.APIVersion
	}

	if overrides.ExpiredBuffer != 0 {
		merged.ExpiredBuffer = overrides.ExpiredBuffer
	}

	if overrides.StaleBuffer != 0 {
		merged.StaleBuffer = overrides.StaleBuffer
	}

	if overrides.MaxRetries != 0 {
		merged.MaxRetries = overrides.MaxRetries
	}

	if overrides.RetryInterval != 0 {
		merged.RetryInterval = overrides.RetryInterval
	}

	if overrides.HTTPTimeout != 0 {
		merged.HTTPTimeout = overrides.HTTPTimeout
	}

	if overrides.AppAuth != nil {
		merged.AppAuth = overrides.AppAuth
	}

	if len(overrides.ClientIPs) > 0 {
		merged.ClientIPs = append([]string(nil), overrides.ClientIPs...)
	}

	if len(overrides.CustomHeaders) > 0 {
		headers := make(map[string]string, len(c.CustomHeaders)+len(overrides.CustomHeaders))
		for k, v := range c.CustomHeaders {
			headers[k] = v
		}

		for k, v := range overrides.CustomHeaders {
			headers[k] = v
		}

		merged.CustomHeaders = headers
	}

	if overrides.UserAgent != "" {
		merged.UserAgent = overrides.UserAgent
	}

	if overrides.Debug {
		merged.Debug = true
	}

	if overrides.Logger != nil {
		merged.Logger = overrides.Logger
	}

	return &merged
}
