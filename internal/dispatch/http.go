package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
	"golang.org/x/time/rate"
)

const flowsPath = "/flows"

type flowsBody struct {
	Force bool         `json:"force"`
	Flows []model.Flow `json:"flows"`
}

// HTTPDispatcher queues batches and delivers them to the flow manager from
// a single worker, optionally rate limited.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	queue   chan Request
}

type HTTPOpt func(*HTTPDispatcher)

func WithHTTPClient(c *http.Client) HTTPOpt {
	return func(d *HTTPDispatcher) { d.client = c }
}

func WithQueueSize(n int) HTTPOpt {
	return func(d *HTTPDispatcher) { d.queue = make(chan Request, n) }
}

// WithRate limits deliveries to r batches per second, 0 means unlimited.
func WithRate(r float64) HTTPOpt {
	return func(d *HTTPDispatcher) {
		if r > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(r), 1)
		} else {
			d.limiter = rate.NewLimiter(rate.Inf, 0)
		}
	}
}

func NewHTTPDispatcher(baseURL string, opts ...HTTPOpt) *HTTPDispatcher {
	d := &HTTPDispatcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
		queue:   make(chan Request, 1024),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.queue <- req:
		metrics.DispatchQueueLength.Set(float64(len(d.queue)))
		return nil
	}
}

// Run drains the queue until ctx is done.
func (d *HTTPDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.queue:
			metrics.DispatchQueueLength.Set(float64(len(d.queue)))
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
			err := d.send(ctx, req)
			metrics.DispatchedBatches.WithLabelValues(string(req.Command), metrics.Result(err)).Inc()
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"switch":  req.Switch,
					"command": req.Command,
					"rules":   len(req.Flows),
				}).Warn("Fail to send rule batch")
			}
		}
	}
}

func (d *HTTPDispatcher) send(ctx context.Context, req Request) error {
	reqURL, err := url.JoinPath(d.baseURL, flowsPath, req.Switch)
	if err != nil {
		return errors.Wrap(err, "url.JoinPath")
	}

	data, err := json.Marshal(flowsBody{Force: req.Force, Flows: req.Flows})
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}

	method := http.MethodPost
	if req.Command == CommandDelete {
		method = http.MethodDelete
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "http.NewRequest")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "http.Do")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}
