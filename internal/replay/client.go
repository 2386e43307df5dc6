package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/types"
	"github.com/okian/tablewatch/pkg/logger"
)

// Client defaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultBatchSize = 50
	DefaultWorkers   = 1
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBatchSize sets how many measurements go into one request.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithWorkers sets the number of concurrent requests. More than one worker
// gives up arrival order across requests.
func WithWorkers(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client submits measurement streams to a running service.
type Client struct {
	base      string
	http      *http.Client
	batchSize int
	workers   int
	log       logger.Logger
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: DefaultTimeout},
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("replay-client")
	}
	return c
}

// Health checks the service's /healthz endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Submit posts ms in batches to /measurements and tallies the responses.
// Failed requests are counted, not returned; the error reports only a
// cancelled context.
func (c *Client) Submit(ctx context.Context, ms []model.Measurement) (SubmitStats, error) {
	var (
		mu    sync.Mutex
		stats SubmitStats
		wg    sync.WaitGroup
	)
	chunks := make(chan []model.Measurement, c.workers*2)

	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				got, err := c.post(ctx, chunk)
				if err != nil {
					got = SubmitStats{Failed: len(chunk)}
					c.log.Warn(ctx, "batch not submitted", logger.Int("size", len(chunk)), logger.Error(err))
				}
				mu.Lock()
				stats.Requests++
				stats.Sent += len(chunk)
				stats.Accepted += got.Accepted
				stats.Dropped += got.Dropped
				stats.Invalid += got.Invalid
				stats.Failed += got.Failed
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(chunks)
		for start := 0; start < len(ms); start += c.batchSize {
			end := min(start+c.batchSize, len(ms))
			select {
			case <-ctx.Done():
				return
			case chunks <- ms[start:end]:
			}
		}
	}()
	wg.Wait()

	c.log.Info(ctx, "submission finished",
		logger.Int("requests", stats.Requests),
		logger.Int("accepted", stats.Accepted),
		logger.Int("dropped", stats.Dropped),
		logger.Int("invalid", stats.Invalid),
		logger.Int("failed", stats.Failed),
	)
	return stats, ctx.Err()
}

// post sends one batch. Backpressure (429) and bad requests (400) are
// counted against the whole batch; any other status is a failure.
func (c *Client) post(ctx context.Context, chunk []model.Measurement) (SubmitStats, error) {
	body, err := json.Marshal(chunk)
	if err != nil {
		return SubmitStats{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/measurements", bytes.NewReader(body))
	if err != nil {
		return SubmitStats{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitStats{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitStats{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		var ack types.MeasurementResponse
		if err := json.Unmarshal(raw, &ack); err != nil {
			return SubmitStats{}, fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		return SubmitStats{Accepted: ack.Accepted, Dropped: ack.Dropped, Invalid: len(ack.Errors)}, nil
	case http.StatusTooManyRequests:
		return SubmitStats{Dropped: len(chunk)}, nil
	case http.StatusBadRequest:
		return SubmitStats{Invalid: len(chunk)}, nil
	default:
		return SubmitStats{}, fmt.Errorf("%w: status %d", ErrSubmit, resp.StatusCode)
	}
}
