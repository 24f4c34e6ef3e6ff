package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

// Filter narrows a circuit listing. Nil fields are not sent.
type Filter struct {
	Enabled          *bool
	TelemetryEnabled *bool
	TelemetryStatus  model.Status
}

func (f Filter) values() url.Values {
	v := url.Values{}
	v.Set("archived", "false")
	if f.Enabled != nil {
		v.Set("enabled", strconv.FormatBool(*f.Enabled))
	}
	if f.TelemetryEnabled != nil {
		v.Set("metadata.telemetry.enabled", strconv.FormatBool(*f.TelemetryEnabled))
	}
	if f.TelemetryStatus != "" {
		v.Set("metadata.telemetry.status", string(f.TelemetryStatus))
	}
	return v
}

// Client talks to the circuit service and the flow store.
type Client struct {
	circuitURL string
	flowURL    string
	client     *http.Client
	attempts   uint64
	interval   time.Duration
}

type Opt func(*Client)

func WithHTTPClient(c *http.Client) Opt {
	return func(r *Client) { r.client = c }
}

// WithRetry bounds the attempts made on transport errors.
func WithRetry(attempts int, interval time.Duration) Opt {
	return func(r *Client) {
		r.attempts = uint64(max(attempts, 1))
		r.interval = interval
	}
}

func New(circuitURL, flowURL string, opts ...Opt) *Client {
	c := &Client{
		circuitURL: circuitURL,
		flowURL:    flowURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		attempts:   5,
		interval:   3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCircuits lists the non archived circuits matching the filter.
func (c *Client) GetCircuits(ctx context.Context, filter Filter) (model.Circuits, error) {
	data, status, err := c.do(ctx, http.MethodGet, c.circuitURL, "/evc/", filter.values(), nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, errcode.Unrecoverable("list circuits: unexpected status %d: %s", status, data)
	}
	circuits, err := model.ParseCircuits(data)
	if err != nil {
		return nil, errcode.Unrecoverable("list circuits: %s", err)
	}
	return circuits, nil
}

// GetCircuit returns a single entry map, or an empty map when the circuit does
// not exist or is archived while excludeArchived is set.
func (c *Client) GetCircuit(ctx context.Context, id string, excludeArchived bool) (model.Circuits, error) {
	data, status, err := c.do(ctx, http.MethodGet, c.circuitURL, "/evc/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return model.Circuits{}, nil
	}
	if status/100 != 2 {
		return nil, errcode.Unrecoverable("get circuit %s: unexpected status %d: %s", id, status, data)
	}
	circuit, err := model.ParseCircuit(data)
	if err != nil {
		return nil, errcode.Unrecoverable("get circuit %s: %s", id, err)
	}
	if excludeArchived && circuit.Archived {
		return model.Circuits{}, nil
	}
	return model.Circuits{circuit.ID: circuit}, nil
}

// GetRuleRecords returns installed or pending records whose cookie falls in
// any of the ranges.
func (c *Client) GetRuleRecords(ctx context.Context, ranges ...cookie.Range) (model.StoredRules, error) {
	v := url.Values{}
	v.Add("state", "installed")
	v.Add("state", "pending")
	for _, r := range ranges {
		v.Add("cookie_range", strconv.FormatUint(r.Start, 10))
		v.Add("cookie_range", strconv.FormatUint(r.End, 10))
	}

	data, status, err := c.do(ctx, http.MethodGet, c.flowURL, "/stored_flows", v, nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, errcode.Unrecoverable("get stored rules: unexpected status %d: %s", status, data)
	}

	var bySwitch map[string][]model.RuleRecord
	if err := json.Unmarshal(data, &bySwitch); err != nil {
		return nil, errcode.Unrecoverable("get stored rules: %s", err)
	}

	rules := make(model.StoredRules)
	for sw, records := range bySwitch {
		for _, r := range records {
			if r.Switch == "" {
				r.Switch = sw
			}
			rules.Add(r)
		}
	}
	return rules, nil
}

type metadataBody struct {
	CircuitIDs []string                `json:"circuit_ids"`
	Telemetry  model.TelemetryMetadata `json:"telemetry"`
}

// PatchCircuitMetadata sets the telemetry metadata of every circuit. A 404
// means some circuit vanished, which is tolerated only with force.
func (c *Client) PatchCircuitMetadata(ctx context.Context, circuits model.Circuits, md model.TelemetryMetadata, force bool) error {
	if len(circuits) == 0 {
		return nil
	}

	body, err := json.Marshal(metadataBody{CircuitIDs: circuits.IDs(), Telemetry: md})
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}

	data, status, err := c.do(ctx, http.MethodPost, c.circuitURL, "/evc/metadata", nil, body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound && force {
		logrus.WithField("evc_ids", circuits.IDs()).Warn("Some circuits not found while setting metadata")
		return nil
	}
	if status/100 != 2 {
		return errcode.Unrecoverable("set metadata %v: unexpected status %d: %s", circuits.IDs(), status, data)
	}
	return nil
}

// do retries only transport errors; any response is returned to the caller.
func (c *Client) do(ctx context.Context, method, base, path string, query url.Values, body []byte) ([]byte, int, error) {
	reqURL, err := url.JoinPath(base, path)
	if err != nil {
		return nil, 0, errcode.Unrecoverable("invalid url %s%s: %s", base, path, err)
	}
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var (
		data      []byte
		status    int
		permanent bool
	)
	op := func() error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, r)
		if err != nil {
			permanent = true
			return backoff.Permanent(errors.Wrap(err, "http.NewRequest"))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return errors.Wrap(err, "http.Do")
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "io.ReadAll")
		}
		status = resp.StatusCode
		return nil
	}
	notify := func(err error, d time.Duration) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"url":    reqURL,
			"next":   d,
		}).Warn("Retrying request")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.attempts-1), ctx)
	err = backoff.RetryNotify(op, b, notify)
	metrics.RepositoryRequests.WithLabelValues(method, metrics.Result(err)).Inc()
	if err != nil {
		if permanent {
			return nil, 0, errcode.Unrecoverable("%s %s: %s", method, reqURL, err)
		}
		return nil, 0, errcode.RetryExhausted(err)
	}
	return data, status, nil
}
