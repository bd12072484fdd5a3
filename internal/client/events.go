package client

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Long-poll messages with meaning; anything else re-issues the poll.
const (
	longPollReconnect = "reconnect"
	longPollNewChange = "new_change"
)

// EventStreamOption configures an EventStream.
type EventStreamOption func(*EventStream)

// WithStartingPosition starts the stream from a stored cursor instead of the
// current end of the event log.
func WithStartingPosition(position string) EventStreamOption {
	return func(s *EventStream) {
		s.position = position
	}
}

// WithFetchInterval sets the minimum delay between consecutive event fetches.
func WithFetchInterval(interval time.Duration) EventStreamOption {
	return func(s *EventStream) {
		s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithRetryDelay sets the delay before the stream resumes after an error.
func WithRetryDelay(delay time.Duration) EventStreamOption {
	return func(s *EventStream) {
		s.retryDelay = delay
	}
}

// WithDedupLimit bounds the duplicate-suppression set.
func WithDedupLimit(limit int) EventStreamOption {
	return func(s *EventStream) {
		s.dedupLimit = limit
	}
}

// EventStream is a pull iterator over the user event log. It drives the
// long-poll cycle internally: fetch long-poll info, block on the realtime
// server until it reports a change, then fetch the new events. Events seen in
// a prior batch are discarded, so callers observe each event once.
//
// The stream is not safe for concurrent Next calls.
type EventStream struct {
	client *Client

	position        string
	longPoll        *cvapi.LongPollInfo
	longPollRetries int

	limiter    *rate.Limiter
	retryDelay time.Duration

	dedup      map[string]struct{}
	dedupLimit int

	pending   []cvapi.Event
	delayNext bool
}

// NewEventStream creates a stream over the user event log. Without
// WithStartingPosition the stream begins at the current end of the log and
// only delivers events that happen after the first Next call.
func (c *Client) NewEventStream(options ...EventStreamOption) *EventStream {
	stream := &EventStream{
		client:     c,
		limiter:    rate.NewLimiter(rate.Every(c.eventFetchInterval()), 1),
		retryDelay: c.streamRetryDelay(),
		dedup:      make(map[string]struct{}),
		dedupLimit: c.dedupLimit(),
	}

	for _, option := range options {
		option(stream)
	}

	return stream
}

// Position returns the stream's current cursor, suitable for resuming with
// WithStartingPosition.
func (s *EventStream) Position() string {
	return s.position
}

// Next blocks until the next event is available and returns it. On error the
// consumer decides whether to keep pulling; unless the error indicates the
// session's auth has permanently expired, a subsequent Next resumes the
// long-poll cycle after the configured retry delay.
func (s *EventStream) Next(ctx context.Context) (*cvapi.Event, error) {
	for {
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]

			return &event, nil
		}

		batch, err := s.advance(ctx)
		if err != nil {
			if !cvapi.IsExpiredAuth(err) {
				s.delayNext = true
			}

			return nil, err
		}

		s.pending = batch
	}
}

// advance runs one step of the long-poll cycle and returns any new events it
// produced. An empty batch means the cycle should simply run again.
func (s *EventStream) advance(ctx context.Context) ([]cvapi.Event, error) {
	if s.delayNext {
		s.delayNext = false

		if err := sleep(ctx, s.retryDelay); err != nil {
			return nil, err
		}
	}

	if s.position == "" {
		position, err := s.currentPosition(ctx)
		if err != nil {
			return nil, err
		}

		s.position = position
	}

	if s.longPoll == nil || s.longPollRetries >= s.longPoll.MaxRetries {
		info, err := s.fetchLongPollInfo(ctx)
		if err != nil {
			return nil, err
		}

		s.longPoll = info
		s.longPollRetries = 0
	}

	message, err := s.longPollOnce(ctx)
	if err != nil {
		return nil, err
	}

	s.longPollRetries++

	switch message {
	case longPollReconnect:
		s.longPoll = nil

		return nil, nil
	case longPollNewChange:
		return s.fetchEvents(ctx)
	default:
		return nil, nil
	}
}

// currentPosition asks the server for the cursor at the current end of the
// event log.
func (s *EventStream) currentPosition(ctx context.Context) (string, error) {
	query := url.Values{"stream_position": {"now"}, "limit": {"0"}}

	resp, err := s.client.Get(ctx, "/events", query, nil)
	if err != nil {
		return "", fmt.Errorf("fetching current stream position: %w", err)
	}

	var collection cvapi.EventCollection
	if err := HandleResponse(resp, &collection); err != nil {
		return "", fmt.Errorf("fetching current stream position: %w", err)
	}

	return collection.NextStreamPosition, nil
}

// fetchLongPollInfo retrieves a fresh realtime-server descriptor.
func (s *EventStream) fetchLongPollInfo(ctx context.Context) (*cvapi.LongPollInfo, error) {
	resp, err := s.client.OptionsCall(ctx, "/events", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching long poll info: %w", err)
	}

	var result struct {
		Entries []cvapi.LongPollInfo `json:"entries"`
	}

	if err := HandleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("fetching long poll info: %w", err)
	}

	if len(result.Entries) == 0 {
		return nil, &cvapi.UnexpectedResponseError{Response: resp}
	}

	info := result.Entries[0]

	return &info, nil
}

// longPollOnce blocks on the realtime server until it responds or the poll
// window elapses, and returns the server's message.
func (s *EventStream) longPollOnce(ctx context.Context) (string, error) {
	pollCtx := ctx

	if s.longPoll.RetryTimeout > 0 {
		var cancel context.CancelFunc

		window := time.Duration(s.longPoll.RetryTimeout) * time.Second
		pollCtx, cancel = context.WithTimeout(ctx, window)

		defer cancel()
	}

	resp, err := s.client.DoPoll(pollCtx, &http.Request{
		Method: nethttp.MethodGet,
		URL:    s.longPoll.URL,
		Query:  url.Values{"stream_position": {s.position}},
	})
	if err != nil {
		return "", fmt.Errorf("long polling: %w", err)
	}

	var result struct {
		Message string `json:"message"`
	}

	if err := HandleResponse(resp, &result); err != nil {
		return "", fmt.Errorf("long polling: %w", err)
	}

	return result.Message, nil
}

// fetchEvents retrieves the events behind the cursor, advances it, and
// filters out events delivered in a prior batch.
func (s *EventStream) fetchEvents(ctx context.Context) ([]cvapi.Event, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting event fetch: %w", err)
	}

	query := url.Values{
		"stream_position": {s.position},
		"limit":           {fmt.Sprintf("%d", s.client.eventChunkSize())},
	}

	resp, err := s.client.Get(ctx, "/events", query, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	var collection cvapi.EventCollection
	if err := HandleResponse(resp, &collection); err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	if collection.NextStreamPosition != "" {
		s.position = collection.NextStreamPosition
	}

	fresh := make([]cvapi.Event, 0, len(collection.Entries))

	for _, event := range collection.Entries {
		if _, seen := s.dedup[event.EventID]; seen {
			continue
		}

		s.dedup[event.EventID] = struct{}{}
		fresh = append(fresh, event)
	}

	s.pruneDedup(collection.Entries)

	return fresh, nil
}

// pruneDedup bounds the duplicate-suppression set. Once it outgrows the
// limit, any ID absent from the latest batch is assumed stale and evicted.
// This is an approximation that trades perfect suppression for bounded
// memory: an old ID re-sent long after its batch would be delivered again.
func (s *EventStream) pruneDedup(latest []cvapi.Event) {
	if len(s.dedup) <= s.dedupLimit {
		return
	}

	pruned := make(map[string]struct{}, len(latest))

	for _, event := range latest {
		if _, seen := s.dedup[event.EventID]; seen {
			pruned[event.EventID] = struct{}{}
		}
	}

	s.dedup = pruned
}

// sleep blocks for the given duration or until ctx is done.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
