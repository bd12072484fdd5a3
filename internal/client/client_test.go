package client

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvault-io/cvapi/internal/auth"
	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// stubSession hands out a fixed token and has no expired-tokens hook.
type stubSession struct {
	token string
	err   error
}

func (s *stubSession) GetAccessToken(ctx context.Context, opts *auth.RequestOptions) (string, error) {
	return s.token, s.err
}

func (s *stubSession) RevokeTokens(ctx context.Context, opts *auth.RequestOptions) error {
	return nil
}

func (s *stubSession) ExchangeToken(ctx context.Context, scopes []string, resourceURL string, actor *auth.ActorParams, opts *auth.RequestOptions) (*cvapi.TokenInfo, error) {
	return nil, nil
}

// handlerSession additionally records expired-token notifications.
type handlerSession struct {
	stubSession

	expired []error
}

func (s *handlerSession) HandleExpiredTokensError(ctx context.Context, cause error) error {
	s.expired = append(s.expired, cause)

	return cause
}

func newTestFacade(serverURL string, session auth.Session, config *cvapi.Config) *Client {
	if config == nil {
		config = &cvapi.Config{}
	}

	if config.APIVersion == "" {
		config.APIVersion = "2.0"
	}

	transport := http.NewClient(serverURL, http.WithRetryConfig(1, time.Millisecond))

	return New(config, session, transport, nil)
}

func TestClient_HeaderLayering(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "/2.0/folders/0", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "10.0.0.1, 10.0.0.2", r.Header.Get("X-Forwarded-For"))
		assert.Equal(t, "42", r.Header.Get("As-User"))
		assert.Equal(t, "caller-wins", r.Header.Get("X-Custom"))

		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := &cvapi.Config{
		ClientIPs: []string{"10.0.0.1", "10.0.0.2"},
		CustomHeaders: map[string]string{
			"As-User":  "42",
			"X-Custom": "client-default",
		},
	}

	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, config)

	resp, err := facade.Get(context.Background(), "/folders/0", nil, map[string]string{"X-Custom": "caller-wins"})
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestClient_ExpiredTokenDetection(t *testing.T) {
	t.Parallel()

	t.Run("401 with an empty body notifies the session", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			w.WriteHeader(nethttp.StatusUnauthorized)
		}))
		defer server.Close()

		session := &handlerSession{stubSession: stubSession{token: "tok"}}
		facade := newTestFacade(server.URL, session, nil)

		_, err := facade.Get(context.Background(), "/folders/0", nil, nil)
		require.Error(t, err)
		assert.True(t, cvapi.IsExpiredAuth(err))
		require.Len(t, session.expired, 1)
		assert.True(t, cvapi.IsExpiredAuth(session.expired[0]))
	})

	t.Run("401 with a body is an ordinary response", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			w.WriteHeader(nethttp.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"bad_signature"}`))
		}))
		defer server.Close()

		session := &handlerSession{stubSession: stubSession{token: "tok"}}
		facade := newTestFacade(server.URL, session, nil)

		resp, err := facade.Get(context.Background(), "/folders/0", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, session.expired)
	})

	t.Run("sessions without a hook still surface the error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			w.WriteHeader(nethttp.StatusUnauthorized)
		}))
		defer server.Close()

		facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

		_, err := facade.Get(context.Background(), "/folders/0", nil, nil)
		assert.True(t, cvapi.IsExpiredAuth(err))
	})
}

func TestHandleResponse(t *testing.T) {
	t.Parallel()

	t.Run("decodes a 2xx body", func(t *testing.T) {
		t.Parallel()

		resp := &cvapi.Response{StatusCode: 200, Body: []byte(`{"id":"42"}`)}

		var out struct {
			ID string `json:"id"`
		}

		require.NoError(t, HandleResponse(resp, &out))
		assert.Equal(t, "42", out.ID)
	})

	t.Run("discards the body when out is nil", func(t *testing.T) {
		t.Parallel()

		resp := &cvapi.Response{StatusCode: 204}

		assert.NoError(t, HandleResponse(resp, nil))
	})

	t.Run("classifies everything else", func(t *testing.T) {
		t.Parallel()

		resp := &cvapi.Response{StatusCode: 409, Body: []byte(`{"code":"conflict"}`)}

		err := HandleResponse(resp, nil)
		assert.True(t, cvapi.IsUnexpectedResponse(err, 409))
	})
}

func TestBatch_Exec(t *testing.T) {
	t.Parallel()

	t.Run("unpacks sub-responses by position", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			assert.Equal(t, "/2.0/batch", r.URL.Path)
			assert.Equal(t, nethttp.MethodPost, r.Method)

			_, _ = w.Write([]byte(`{
				"responses": [
					{"status": 200, "response": {"id": "1"}},
					{"status": 404, "response": {"code": "not_found"}}
				]
			}`))
		}))
		defer server.Close()

		facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

		batch := facade.Batch()
		first := batch.Get("/folders/1", nil)
		second := batch.Get("/folders/404", nil)

		require.NoError(t, batch.Exec(context.Background()))

		firstResp, err := first.Response()
		require.NoError(t, err)
		assert.Equal(t, 200, firstResp.Status)
		assert.Equal(t, "1", firstResp.Response["id"])

		secondResp, err := second.Response()
		require.NoError(t, err)
		assert.Equal(t, 404, secondResp.Status)
	})

	t.Run("a failed batch call fails every queued caller", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
		}))
		defer server.Close()

		facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

		batch := facade.Batch()
		first := batch.Get("/folders/1", nil)
		second := batch.Delete("/folders/2", nil)

		require.Error(t, batch.Exec(context.Background()))

		_, err := first.Response()
		assert.Error(t, err)

		_, err = second.Response()
		assert.Error(t, err)
	})

	t.Run("executes at most once", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			_, _ = w.Write([]byte(`{"responses": []}`))
		}))
		defer server.Close()

		facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

		batch := facade.Batch()
		require.NoError(t, batch.Exec(context.Background()))
		assert.ErrorIs(t, batch.Exec(context.Background()), cvapi.ErrBatchAlreadyExecuted)
	})

	t.Run("a call has no response before exec", func(t *testing.T) {
		t.Parallel()

		facade := newTestFacade("https://unused.invalid", &stubSession{token: "tok"}, nil)

		call := facade.Batch().Get("/folders/1", nil)

		_, err := call.Response()
		assert.ErrorIs(t, err, cvapi.ErrBatchNotExecuted)
	})
}
