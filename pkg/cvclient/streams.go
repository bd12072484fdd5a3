package cvclient

import (
	"time"

	"github.com/cloudvault-io/cvapi/internal/client"
)

// Aliases re-exporting the engine types so consumers never import internal
// packages.
type (
	// Batch queues API calls for one composite network request.
	Batch = client.Batch
	// BatchCall is one queued call of a Batch.
	BatchCall = client.BatchCall
	// EventStream is a pull iterator over the user event log.
	EventStream = client.EventStream
	// EventStreamOption configures an EventStream.
	EventStreamOption = client.EventStreamOption
	// EnterpriseEventStream is a pull iterator over the enterprise admin log.
	EnterpriseEventStream = client.EnterpriseEventStream
	// EnterpriseEventStreamOption configures an EnterpriseEventStream.
	EnterpriseEventStreamOption = client.EnterpriseEventStreamOption
	// StreamState is the exportable cursor and filters of an
	// EnterpriseEventStream.
	StreamState = client.StreamState
	// ChunkedUploader uploads a large source in fixed-size parts.
	ChunkedUploader = client.ChunkedUploader
	// ChunkedUploaderOption configures a ChunkedUploader.
	ChunkedUploaderOption = client.ChunkedUploaderOption
)

// WithStartingPosition starts an EventStream from a stored cursor.
func WithStartingPosition(position string) EventStreamOption {
	return client.WithStartingPosition(position)
}

// WithFetchInterval sets an EventStream's minimum delay between event
// fetches.
func WithFetchInterval(interval time.Duration) EventStreamOption {
	return client.WithFetchInterval(interval)
}

// WithRetryDelay sets an EventStream's delay before resuming after an error.
func WithRetryDelay(delay time.Duration) EventStreamOption {
	return client.WithRetryDelay(delay)
}

// WithDedupLimit bounds an EventStream's duplicate-suppression set.
func WithDedupLimit(limit int) EventStreamOption {
	return client.WithDedupLimit(limit)
}

// WithStreamState resumes an EnterpriseEventStream from an exported state.
func WithStreamState(state StreamState) EnterpriseEventStreamOption {
	return client.WithStreamState(state)
}

// WithEventTypes filters an EnterpriseEventStream to the given event types.
func WithEventTypes(eventTypes ...string) EnterpriseEventStreamOption {
	return client.WithEventTypes(eventTypes...)
}

// WithDateRange bounds an EnterpriseEventStream to a creation-time window.
func WithDateRange(startDate, endDate string) EnterpriseEventStreamOption {
	return client.WithDateRange(startDate, endDate)
}

// WithChunkSize sets how many events an EnterpriseEventStream requests per
// poll.
func WithChunkSize(chunkSize int) EnterpriseEventStreamOption {
	return client.WithChunkSize(chunkSize)
}

// WithPollingInterval sets an EnterpriseEventStream's wait between polls; a
// zero or negative interval ends the stream at the first empty page.
func WithPollingInterval(interval time.Duration) EnterpriseEventStreamOption {
	return client.WithPollingInterval(interval)
}

// WithParallelism bounds how many parts a ChunkedUploader uploads
// concurrently.
func WithParallelism(parallelism int) ChunkedUploaderOption {
	return client.WithParallelism(parallelism)
}

// WithPartRetryInterval sets a ChunkedUploader's delay between retries of a
// part that failed at the transport level.
func WithPartRetryInterval(interval time.Duration) ChunkedUploaderOption {
	return client.WithPartRetryInterval(interval)
}

// HandleResponse is the default response wrapper: a 2xx response has its
// body decoded into out (nil discards it); any other status becomes an
// UnexpectedResponseError carrying the response.
var HandleResponse = client.HandleResponse
