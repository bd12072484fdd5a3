package client

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // the upload API mandates SHA-1 part digests
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	nethttp "net/http"
	"sort"
	"sync"
	"time"

	"github.com/cloudvault-io/cvapi/internal/constants"
	"github.com/cloudvault-io/cvapi/internal/http"
	"github.com/cloudvault-io/cvapi/pkg/cvapi"
)

// CreateUploadSession negotiates a chunked upload session with the server.
func (c *Client) CreateUploadSession(ctx context.Context, folderID, fileName string, fileSize int64) (*cvapi.UploadSession, error) {
	body := map[string]interface{}{
		"folder_id": folderID,
		"file_name": fileName,
		"file_size": fileSize,
	}

	resp, err := c.DoUpload(ctx, &http.Request{
		Method: nethttp.MethodPost,
		URL:    c.apiPath("/uploads/sessions"),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("creating upload session: %w", err)
	}

	var session cvapi.UploadSession
	if err := HandleResponse(resp, &session); err != nil {
		return nil, fmt.Errorf("creating upload session: %w", err)
	}

	return &session, nil
}

// ChunkedUploaderOption configures a ChunkedUploader.
type ChunkedUploaderOption func(*ChunkedUploader)

// WithParallelism bounds how many parts upload concurrently.
func WithParallelism(parallelism int) ChunkedUploaderOption {
	return func(u *ChunkedUploader) {
		u.parallelism = parallelism
	}
}

// WithPartRetryInterval sets the delay between retries of a part that failed
// at the transport level.
func WithPartRetryInterval(interval time.Duration) ChunkedUploaderOption {
	return func(u *ChunkedUploader) {
		u.retryInterval = interval
	}
}

// ChunkedUploader uploads a large source in fixed-size parts with bounded
// parallelism. The source is read sequentially exactly once; a rolling
// whole-file digest is updated as parts are read, so the full payload never
// has to fit in memory. A part that fails at the transport level retries
// indefinitely; an API-level rejection is terminal and fails the upload.
type ChunkedUploader struct {
	client  *Client
	session *cvapi.UploadSession
	source  io.Reader

	fileSize      int64
	parallelism   int
	retryInterval time.Duration
	digest        hash.Hash

	mu       sync.Mutex
	parts    []cvapi.UploadPart
	firstErr error

	abort     chan struct{}
	abortOnce sync.Once
}

// NewChunkedUploader creates an uploader for an already-created session.
func (c *Client) NewChunkedUploader(session *cvapi.UploadSession, source io.Reader, fileSize int64, options ...ChunkedUploaderOption) *ChunkedUploader {
	uploader := &ChunkedUploader{
		client:        c,
		session:       session,
		source:        source,
		fileSize:      fileSize,
		parallelism:   constants.DefaultUploadParallelism,
		retryInterval: constants.DefaultPartRetryInterval,
		digest:        sha1.New(), //nolint:gosec // mandated by the upload API
		abort:         make(chan struct{}),
	}

	for _, option := range options {
		option(uploader)
	}

	return uploader
}

// Upload reads the source, uploads every part, and commits the session once
// all parts are accounted for. It returns the commit response. Parts may
// finish out of order; the commit carries them ordered by offset.
func (u *ChunkedUploader) Upload(ctx context.Context) (*cvapi.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-u.abort:
			cancel()
		case <-stop:
		}
	}()

	sem := make(chan struct{}, u.parallelism)

	var wg sync.WaitGroup

	var offset int64

read:
	for offset < u.fileSize {
		if u.aborted() || u.failed() {
			break
		}

		buf := make([]byte, u.session.PartSize)

		n, err := io.ReadFull(u.source, buf)
		if n > 0 {
			data := buf[:n]
			u.digest.Write(data)

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break read
			}

			wg.Add(1)

			go func(partOffset int64, data []byte) {
				defer wg.Done()
				defer func() { <-sem }()

				part, uploadErr := u.uploadPart(ctx, partOffset, data)
				if uploadErr != nil {
					u.recordError(uploadErr)

					return
				}

				u.recordPart(*part)
			}(offset, data)

			offset += int64(n)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			u.recordError(fmt.Errorf("reading upload source: %w", err))

			break
		}
	}

	wg.Wait()

	if u.aborted() {
		return nil, cvapi.ErrUploadAborted
	}

	if err := u.err(); err != nil {
		return nil, err
	}

	if offset < u.fileSize {
		return nil, fmt.Errorf("%w: source ended at byte %d of %d", cvapi.ErrUploadSessionNotCommittable, offset, u.fileSize)
	}

	return u.commit(ctx)
}

// Parts returns the parts uploaded so far, ordered by offset.
func (u *ChunkedUploader) Parts() []cvapi.UploadPart {
	u.mu.Lock()
	defer u.mu.Unlock()

	parts := make([]cvapi.UploadPart, len(u.parts))
	copy(parts, u.parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Offset < parts[j].Offset })

	return parts
}

// Abort stops the upload: no further parts are dispatched or retried, and
// the server is told to discard the session. Results of parts already in
// flight are ignored.
func (u *ChunkedUploader) Abort(ctx context.Context) error {
	u.abortOnce.Do(func() { close(u.abort) })

	resp, err := u.client.DoUpload(ctx, &http.Request{
		Method: nethttp.MethodDelete,
		URL:    u.sessionPath(""),
	})
	if err != nil {
		return fmt.Errorf("aborting upload session: %w", err)
	}

	if err := HandleResponse(resp, nil); err != nil {
		return fmt.Errorf("aborting upload session: %w", err)
	}

	return nil
}

func (u *ChunkedUploader) sessionPath(suffix string) string {
	return u.client.apiPath("/uploads/sessions/" + u.session.ID + suffix)
}

func (u *ChunkedUploader) aborted() bool {
	select {
	case <-u.abort:
		return true
	default:
		return false
	}
}

func (u *ChunkedUploader) failed() bool {
	return u.err() != nil
}

func (u *ChunkedUploader) err() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.firstErr
}

func (u *ChunkedUploader) recordError(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.firstErr == nil {
		u.firstErr = err
	}
}

func (u *ChunkedUploader) recordPart(part cvapi.UploadPart) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.parts = append(u.parts, part)
}

// uploadPart sends one part, retrying indefinitely on transport failures. An
// API-level rejection means the server refused this part and is terminal.
func (u *ChunkedUploader) uploadPart(ctx context.Context, offset int64, data []byte) (*cvapi.UploadPart, error) {
	sum := sha1.Sum(data) //nolint:gosec // mandated by the upload API
	headers := map[string]string{
		"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(data))-1, u.fileSize),
		"Digest":        "sha=" + base64.StdEncoding.EncodeToString(sum[:]),
	}

	for {
		resp, err := u.client.DoUpload(ctx, &http.Request{
			Method:      nethttp.MethodPut,
			URL:         u.sessionPath(""),
			Headers:     headers,
			Raw:         bytes.NewReader(data),
			ContentType: "application/octet-stream",
			NoRetry:     true,
		})

		if err != nil {
			reqErr := &cvapi.RequestError{}
			if !errors.As(err, &reqErr) {
				// Auth and validation failures are not transport failures.
				return nil, err
			}

			if sleepErr := sleep(ctx, u.retryInterval); sleepErr != nil {
				return nil, fmt.Errorf("uploading part at offset %d: %w", offset, err)
			}

			continue
		}

		var result struct {
			Part cvapi.UploadPart `json:"part"`
		}

		if err := HandleResponse(resp, &result); err != nil {
			return nil, fmt.Errorf("uploading part at offset %d: %w", offset, err)
		}

		return &result.Part, nil
	}
}

// commit finalizes the session with the whole-file digest and the ordered
// part list.
func (u *ChunkedUploader) commit(ctx context.Context) (*cvapi.Response, error) {
	headers := map[string]string{
		"Digest": "sha=" + base64.StdEncoding.EncodeToString(u.digest.Sum(nil)),
	}

	resp, err := u.client.DoUpload(ctx, &http.Request{
		Method:  nethttp.MethodPost,
		URL:     u.sessionPath("/commit"),
		Headers: headers,
		Body:    map[string]interface{}{"parts": u.Parts()},
	})
	if err != nil {
		return nil, fmt.Errorf("committing upload session: %w", err)
	}

	if err := HandleResponse(resp, nil); err != nil {
		return nil, fmt.Errorf("committing upload session: %w", err)
	}

	return resp, nil
}
