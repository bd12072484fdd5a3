package client

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// Batch collects API calls and dispatches them as one composite network
// request. Calls added to a batch are not executed until Exec runs; each call
// gets its own positional sub-response. A batch executes at most once.
type Batch struct {
	client *Client

	mu       sync.Mutex
	calls    []*BatchCall
	executed bool
}

// BatchCall is one queued call of a batch. Its outcome is available after
// Batch.Exec returns.
type BatchCall struct {
	request  cvapi.BatchRequest
	response *cvapi.BatchResponse
	err      error
}

// Response returns the sub-response for this call, or the error that failed
// it. Calling Response before Exec returns an error.
func (bc *BatchCall) Response() (*cvapi.BatchResponse, error) {
	if bc.err != nil {
		return nil, bc.err
	}

	if bc.response == nil {
		return nil, cvapi.ErrBatchNotExecuted
	}

	return bc.response, nil
}

// Batch starts a new batch bound to this client.
func (c *Client) Batch() *Batch {
	return &Batch{client: c}
}

// Add queues one call. relativeURL is relative to the versioned API root,
// e.g. "/folders/0".
func (b *Batch) Add(method, relativeURL string, headers map[string]string, body interface{}) *BatchCall {
	call := &BatchCall{
		request: cvapi.BatchRequest{
			Method:      method,
			RelativeURL: relativeURL,
			Headers:     headers,
			Body:        body,
		},
	}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()

	return call
}

// Get queues a GET call.
func (b *Batch) Get(relativeURL string, headers map[string]string) *BatchCall {
	return b.Add(nethttp.MethodGet, relativeURL, headers, nil)
}

// Post queues a POST call.
func (b *Batch) Post(relativeURL string, headers map[string]string, body interface{}) *BatchCall {
	return b.Add(nethttp.MethodPost, relativeURL, headers, body)
}

// Put queues a PUT call.
func (b *Batch) Put(relativeURL string, headers map[string]string, body interface{}) *BatchCall {
	return b.Add(nethttp.MethodPut, relativeURL, headers, body)
}

// Delete queues a DELETE call.
func (b *Batch) Delete(relativeURL string, headers map[string]string) *BatchCall {
	return b.Add(nethttp.MethodDelete, relativeURL, headers, nil)
}

// Exec dispatches the queued calls as one POST to the batch endpoint and
// unpacks the sub-responses by array position. A transport-level failure of
// the batch call itself fails every queued call with the same error.
func (b *Batch) Exec(ctx context.Context) error {
	b.mu.Lock()
	if b.executed {
		b.mu.Unlock()

		return cvapi.ErrBatchAlreadyExecuted
	}

	b.executed = true
	calls := b.calls
	b.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}

	requests := make([]cvapi.BatchRequest, len(calls))
	for i, call := range calls {
		requests[i] = call.request
	}

	resp, err := b.client.Post(ctx, "/batch", map[string]interface{}{"requests": requests}, nil)
	if err != nil {
		for _, call := range calls {
			call.err = err
		}

		return err
	}

	var result struct {
		Responses []cvapi.BatchResponse `json:"responses"`
	}

	if err := HandleResponse(resp, &result); err != nil {
		for _, call := range calls {
			call.err = err
		}

		return err
	}

	for i, call := range calls {
		if i >= len(result.Responses) {
			call.err = fmt.Errorf("batch response missing entry %d", i)

			continue
		}

		sub := result.Responses[i]
		call.response = &sub
	}

	return nil
}
