package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

func eventLogServer(t *testing.T) *httptest.Server {
	t.Helper()

	var fetches atomic.Int32

	mux := nethttp.NewServeMux()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/2.0/events", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodOptions {
			fmt.Fprintf(w, `{"entries": [{"url": %q, "retry_timeout": 600, "max_retries": 10}]}`, server.URL+"/poll")

			return
		}

		// Consecutive batches overlap on e2 to exercise dedup.
		switch fetches.Add(1) {
		case 1:
			assert.Equal(t, "100", r.URL.Query().Get("stream_position"))
			_ = json.NewEncoder(w).Encode(cvapi.EventCollection{
				Entries: []cvapi.Event{
					{EventID: "e1", EventType: "ITEM_CREATE"},
					{EventID: "e2", EventType: "ITEM_RENAME"},
				},
				NextStreamPosition: "200",
			})
		default:
			assert.Equal(t, "200", r.URL.Query().Get("stream_position"))
			_ = json.NewEncoder(w).Encode(cvapi.EventCollection{
				Entries: []cvapi.Event{
					{EventID: "e2", EventType: "ITEM_RENAME"},
					{EventID: "e3", EventType: "ITEM_TRASH"},
				},
				NextStreamPosition: "300",
			})
		}
	})

	mux.HandleFunc("/poll", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprint(w, `{"message": "new_change"}`)
	})

	return server
}

func TestEventStream_DeliversAndDeduplicates(t *testing.T) {
	t.Parallel()

	server := eventLogServer(t)
	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

	stream := facade.NewEventStream(
		WithStartingPosition("100"),
		WithFetchInterval(time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string

	for len(ids) < 3 {
		event, err := stream.Next(ctx)
		require.NoError(t, err)
		ids = append(ids, event.EventID)
	}

	assert.Equal(t, []string{"e1", "e2", "e3"}, ids, "e2 must be delivered once")
	assert.Equal(t, "300", stream.Position())
}

func TestEventStream_ReconnectRefetchesLongPollInfo(t *testing.T) {
	t.Parallel()

	var infoFetches, polls atomic.Int32

	mux := nethttp.NewServeMux()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/2.0/events", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodOptions {
			infoFetches.Add(1)
			fmt.Fprintf(w, `{"entries": [{"url": %q, "retry_timeout": 600, "max_retries": 10}]}`, server.URL+"/poll")

			return
		}

		_ = json.NewEncoder(w).Encode(cvapi.EventCollection{
			Entries:            []cvapi.Event{{EventID: "e1", EventType: "ITEM_CREATE"}},
			NextStreamPosition: "200",
		})
	})

	mux.HandleFunc("/poll", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if polls.Add(1) == 1 {
			fmt.Fprint(w, `{"message": "reconnect"}`)

			return
		}

		fmt.Fprint(w, `{"message": "new_change"}`)
	})

	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)
	stream := facade.NewEventStream(WithStartingPosition("100"), WithFetchInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, int32(2), infoFetches.Load(), "reconnect must refetch long-poll info")
}

func TestEventStream_PruneDedup(t *testing.T) {
	t.Parallel()

	facade := newTestFacade("https://unused.invalid", &stubSession{token: "tok"}, nil)
	stream := facade.NewEventStream(WithDedupLimit(3))

	for _, id := range []string{"a", "b", "c", "d"} {
		stream.dedup[id] = struct{}{}
	}

	latest := []cvapi.Event{{EventID: "c"}, {EventID: "d"}}
	stream.pruneDedup(latest)

	assert.Len(t, stream.dedup, 2)
	assert.Contains(t, stream.dedup, "c")
	assert.Contains(t, stream.dedup, "d")
	assert.NotContains(t, stream.dedup, "a")
}

func TestEventStream_DelaysAfterError(t *testing.T) {
	t.Parallel()

	var optionsCalls atomic.Int32

	mux := nethttp.NewServeMux()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/2.0/events", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodOptions {
			if optionsCalls.Add(1) == 1 {
				w.WriteHeader(nethttp.StatusBadRequest)
				fmt.Fprint(w, `{"code":"bad_request"}`)

				return
			}

			fmt.Fprintf(w, `{"entries": [{"url": %q, "retry_timeout": 600, "max_retries": 10}]}`, server.URL+"/poll")

			return
		}

		_ = json.NewEncoder(w).Encode(cvapi.EventCollection{
			Entries:            []cvapi.Event{{EventID: "e1", EventType: "ITEM_CREATE"}},
			NextStreamPosition: "200",
		})
	})

	mux.HandleFunc("/poll", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprint(w, `{"message": "new_change"}`)
	})

	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)
	stream := facade.NewEventStream(
		WithStartingPosition("100"),
		WithFetchInterval(time.Millisecond),
		WithRetryDelay(10*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := stream.Next(ctx)
	require.Error(t, err)
	assert.True(t, cvapi.IsUnexpectedResponse(err, nethttp.StatusBadRequest))

	// The next pull resumes the cycle after the retry delay.
	event, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", event.EventID)
}

func TestEnterpriseEventStream_CursorNeverRegresses(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "admin_logs", r.URL.Query().Get("stream_type"))

		switch polls.Add(1) {
		case 1:
			assert.Equal(t, "2026-01-01T00:00:00Z", r.URL.Query().Get("created_after"))
			_ = json.NewEncoder(w).Encode(cvapi.EventCollection{
				Entries:            []cvapi.Event{{EventID: "a1", EventType: "LOGIN"}},
				NextStreamPosition: "cursor-1",
			})
		default:
			assert.Equal(t, "cursor-1", r.URL.Query().Get("stream_position"))
			// Empty page with a falsy next cursor: no new information.
			_ = json.NewEncoder(w).Encode(cvapi.EventCollection{})
		}
	}))
	defer server.Close()

	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

	stream := facade.NewEnterpriseEventStream(
		WithDateRange("2026-01-01T00:00:00Z", ""),
		WithPollingInterval(0),
	)

	ctx := context.Background()

	event, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", event.EventID)

	_, err = stream.Next(ctx)
	require.True(t, errors.Is(err, cvapi.ErrStreamEnded))
	assert.Equal(t, "cursor-1", stream.Position(), "empty page must not reset the cursor")
}

func TestEnterpriseEventStream_ResumesFromState(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "cursor-9", r.URL.Query().Get("stream_position"))
		assert.Equal(t, "LOGIN,ITEM_TRASH", r.URL.Query().Get("event_type"))
		_ = json.NewEncoder(w).Encode(cvapi.EventCollection{})
	}))
	defer server.Close()

	facade := newTestFacade(server.URL, &stubSession{token: "tok"}, nil)

	stream := facade.NewEnterpriseEventStream(
		WithStreamState(StreamState{Position: "cursor-9", EventTypes: []string{"LOGIN", "ITEM_TRASH"}}),
		WithPollingInterval(0),
	)

	_, err := stream.Next(context.Background())
	require.True(t, errors.Is(err, cvapi.ErrStreamEnded))

	state := stream.State()
	assert.Equal(t, "cursor-9", state.Position)
	assert.Equal(t, []string{"LOGIN", "ITEM_TRASH"}, state.EventTypes)
}
