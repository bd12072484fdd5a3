package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

func testConfig(serverURL string) *cvapi.Config {
	return &cvapi.Config{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		APIRoot:       serverURL,
		StaleBuffer:   5 * time.Minute,
		ExpiredBuffer: 30 * time.Second,
	}
}

func newTestManager(serverURL string) *TokenManager {
	return NewTokenManager(
		testConfig(serverURL),
		http.NewClient(serverURL, http.WithRetryConfig(1, time.Millisecond)),
	)
}

func writeGrant(w nethttp.ResponseWriter, refreshToken string) {
	grant := map[string]interface{}{
		"access_token": "at",
		"expires_in":   3600,
	}
	if refreshToken != "" {
		grant["refresh_token"] = refreshToken
	}

	_ = json.NewEncoder(w).Encode(grant)
}

func TestTokenManager_AuthorizationCodeGrant(t *testing.T) {
	t.Run("exchanges a code for tokens", func(t *testing.T) {
		before := time.Now()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			assert.Equal(t, "/oauth2/token", r.URL.Path)
			assert.Equal(t, nethttp.MethodPost, r.Method)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			assert.Equal(t, "abc", r.Form.Get("code"))
			assert.Equal(t, "client-id", r.Form.Get("client_id"))
			assert.Equal(t, "client-secret", r.Form.Get("client_secret"))
			assert.Equal(t, "127.0.0.1", r.Header.Get("X-Forwarded-For"))

			writeGrant(w, "rt")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		info, err := manager.AuthorizationCodeGrant(context.Background(), "abc", &RequestOptions{IP: "127.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, "at", info.AccessToken)
		assert.Equal(t, "rt", info.RefreshToken)
		assert.Equal(t, time.Hour, info.AccessTokenTTL)
		assert.False(t, info.AcquiredAt.Before(before))
		assert.False(t, info.AcquiredAt.After(time.Now()))
	})

	t.Run("rejects an empty code without a network call", func(t *testing.T) {
		var calls atomic.Int32

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		_, err := manager.AuthorizationCodeGrant(context.Background(), "", nil)
		require.ErrorIs(t, err, cvapi.ErrAuthorizationCodeRequired)
		assert.Zero(t, calls.Load())
	})
}

func TestTokenManager_GrantClassification(t *testing.T) {
	t.Run("invalid_grant in a 2xx body is expired auth", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "refresh token has been revoked",
			})
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		_, err := manager.RefreshTokenGrant(context.Background(), "rt", nil)
		require.Error(t, err)
		assert.True(t, cvapi.IsExpiredAuth(err))
		assert.Contains(t, err.Error(), "refresh token has been revoked")
	})

	t.Run("non-2xx is an unexpected response", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.Error(w, `{"error":"invalid_client"}`, nethttp.StatusBadRequest)
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		_, err := manager.ClientCredentialsGrant(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, cvapi.IsUnexpectedResponse(err, nethttp.StatusBadRequest))
	})

	t.Run("non-JSON 2xx body is an unexpected response", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			fmt.Fprint(w, "<html>maintenance</html>")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		_, err := manager.ClientCredentialsGrant(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, cvapi.IsUnexpectedResponse(err, nethttp.StatusOK))
	})

	t.Run("missing refresh token on a code grant is an invalid format", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			writeGrant(w, "")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		_, err := manager.AuthorizationCodeGrant(context.Background(), "abc", nil)

		invalid := &cvapi.InvalidTokenFormatError{}
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{"refresh_token"}, invalid.Missing)
	})

	t.Run("client credentials grant needs no refresh token", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
			writeGrant(w, "")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		info, err := manager.ClientCredentialsGrant(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, info.RefreshToken)
	})
}

func TestTokenManager_RefreshTokenGrant(t *testing.T) {
	t.Parallel()

	manager := newTestManager("https://unused.invalid")

	_, err := manager.RefreshTokenGrant(context.Background(), "", nil)
	assert.ErrorIs(t, err, cvapi.ErrRefreshTokenRequired)
}

func testSigningKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	return key, pemBytes
}

func TestTokenManager_JWTGrant(t *testing.T) {
	t.Run("signs an assertion for the subject", func(t *testing.T) {
		key, pemBytes := testSigningKey(t)

		var assertion string

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
			assertion = r.Form.Get("assertion")
			writeGrant(w, "")
		}))
		defer server.Close()

		config := testConfig(server.URL)
		config.AppAuth = &cvapi.AppAuthConfig{
			KeyID:      "kid-1",
			PrivateKey: pemBytes,
		}

		manager := NewTokenManager(config, http.NewClient(server.URL))

		info, err := manager.JWTGrant(context.Background(), SubjectEnterprise, "1234", nil)
		require.NoError(t, err)
		assert.Equal(t, "at", info.AccessToken)

		parsed, err := jwt.NewParser(jwt.WithoutClaimsValidation()).Parse(assertion, func(token *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "kid-1", parsed.Header["kid"])

		claims, ok := parsed.Claims.(jwt.MapClaims)
		require.True(t, ok)
		assert.Equal(t, "client-id", claims["iss"])
		assert.Equal(t, "1234", claims["sub"])
		assert.Equal(t, "enterprise", claims["subject_type"])
		assert.NotEmpty(t, claims["jti"])
	})

	t.Run("retries once against the server clock on exp rejection", func(t *testing.T) {
		_, pemBytes := testSigningKey(t)

		serverNow := time.Now().Add(-10 * time.Minute).UTC()

		var calls atomic.Int32

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Date", serverNow.Format(nethttp.TimeFormat))
				w.WriteHeader(nethttp.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":             "invalid_grant",
					"error_description": "the exp claim is too far in the future",
				})

				return
			}

			writeGrant(w, "")
		}))
		defer server.Close()

		config := testConfig(server.URL)
		config.AppAuth = &cvapi.AppAuthConfig{KeyID: "kid-1", PrivateKey: pemBytes}

		manager := NewTokenManager(config, http.NewClient(server.URL))

		info, err := manager.JWTGrant(context.Background(), SubjectUser, "u-1", nil)
		require.NoError(t, err)
		assert.Equal(t, "at", info.AccessToken)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does not retry other rejections", func(t *testing.T) {
		_, pemBytes := testSigningKey(t)

		var calls atomic.Int32

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			calls.Add(1)
			w.WriteHeader(nethttp.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "subject is not authorized",
			})
		}))
		defer server.Close()

		config := testConfig(server.URL)
		config.AppAuth = &cvapi.AppAuthConfig{KeyID: "kid-1", PrivateKey: pemBytes}

		manager := NewTokenManager(config, http.NewClient(server.URL))

		_, err := manager.JWTGrant(context.Background(), SubjectUser, "u-1", nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestTokenManager_ExchangeToken(t *testing.T) {
	t.Run("downscopes to the requested scopes and resource", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:token-exchange", r.Form.Get("grant_type"))
			assert.Equal(t, "parent-token", r.Form.Get("subject_token"))
			assert.Equal(t, "urn:ietf:params:oauth:token-type:access_token", r.Form.Get("subject_token_type"))
			assert.Equal(t, "item_read item_preview", r.Form.Get("scope"))
			assert.Equal(t, "https://api.cloudvault.io/2.0/files/99", r.Form.Get("resource"))
			writeGrant(w, "")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		scopes := []string{"item_read", "item_preview"}

		info, err := manager.ExchangeToken(context.Background(), "parent-token", scopes, "https://api.cloudvault.io/2.0/files/99", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "at", info.AccessToken)
	})

	t.Run("asserts an actor with an unsigned token", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			require.NoError(t, r.ParseForm())

			actorToken := r.Form.Get("actor_token")
			require.NotEmpty(t, actorToken)
			assert.Equal(t, "urn:ietf:params:oauth:token-type:id_token", r.Form.Get("actor_token_type"))

			parsed, _, err := jwt.NewParser().ParseUnverified(actorToken, jwt.MapClaims{})
			require.NoError(t, err)
			assert.Equal(t, "none", parsed.Header["alg"])

			claims, ok := parsed.Claims.(jwt.MapClaims)
			require.True(t, ok)
			assert.Equal(t, "actor-1", claims["sub"])
			assert.Equal(t, "external", claims["subject_type"])

			writeGrant(w, "")
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		actor := &ActorParams{ID: "actor-1", Name: "Service Account"}

		_, err := manager.ExchangeToken(context.Background(), "parent-token", []string{"item_read"}, "", actor, nil)
		require.NoError(t, err)
	})

	t.Run("requires an access token", func(t *testing.T) {
		manager := newTestManager("https://unused.invalid")

		_, err := manager.ExchangeToken(context.Background(), "", nil, "", nil, nil)
		assert.ErrorIs(t, err, cvapi.ErrAccessTokenRequired)
	})
}

func TestTokenManager_Revoke(t *testing.T) {
	t.Run("posts the token with client credentials", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			assert.Equal(t, "/oauth2/revoke", r.URL.Path)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "at", r.Form.Get("token"))
			assert.Equal(t, "client-id", r.Form.Get("client_id"))
			assert.Equal(t, "client-secret", r.Form.Get("client_secret"))
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		require.NoError(t, manager.Revoke(context.Background(), "at", nil))
	})

	t.Run("classifies a rejection", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.Error(w, `{"error":"invalid_client"}`, nethttp.StatusBadRequest)
		}))
		defer server.Close()

		manager := newTestManager(server.URL)

		err := manager.Revoke(context.Background(), "at", nil)
		assert.True(t, cvapi.IsUnexpectedResponse(err, nethttp.StatusBadRequest))
	})
}
