package dispatch

import (
	"context"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
)

type Command string

const (
	CommandInstall Command = "install"
	CommandDelete  Command = "delete"
)

// Request is one batch of rules for one switch.
type Request struct {
	Switch  string       `json:"switch"`
	Command Command      `json:"command"`
	Flows   []model.Flow `json:"flows"`
	Force   bool         `json:"force"`
}

// Dispatcher hands a batch over for delivery. It must not wait for the
// switch to apply the rules.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Batcher splits per-switch rule sets into fixed size batches with a pause
// between consecutive batches of the same switch.
type Batcher struct {
	dispatcher Dispatcher
	size       int
	interval   time.Duration
	sleep      SleepFunc
}

type BatcherOpt func(*Batcher)

// WithBatchSize sets the batch size, a non-positive size sends every rule
// of a switch in a single batch.
func WithBatchSize(n int) BatcherOpt {
	return func(b *Batcher) { b.size = n }
}

func WithBatchInterval(d time.Duration) BatcherOpt {
	return func(b *Batcher) { b.interval = d }
}

func WithSleep(sleep SleepFunc) BatcherOpt {
	return func(b *Batcher) { b.sleep = sleep }
}

func NewBatcher(d Dispatcher, opts ...BatcherOpt) *Batcher {
	b := &Batcher{dispatcher: d, size: 200, interval: 500 * time.Millisecond, sleep: Sleep}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send dispatches the rules switch by switch in sorted switch order.
func (b *Batcher) Send(ctx context.Context, switchFlows map[string][]model.Flow, cmd Command) error {
	switches := lo.Keys(switchFlows)
	slices.Sort(switches)

	for _, sw := range switches {
		flows := switchFlows[sw]
		if len(flows) == 0 {
			continue
		}

		batches := [][]model.Flow{flows}
		if b.size > 0 {
			batches = lo.Chunk(flows, b.size)
		}
		for i, batch := range batches {
			if i > 0 && b.interval > 0 {
				if err := b.sleep(ctx, b.interval); err != nil {
					return err
				}
			}

			err := b.dispatcher.Dispatch(ctx, Request{Switch: sw, Command: cmd, Flows: batch, Force: true})
			if err != nil {
				return err
			}
			metrics.DispatchedRules.WithLabelValues(string(cmd)).Add(float64(len(batch)))
			logrus.WithFields(logrus.Fields{
				"switch":  sw,
				"command": cmd,
				"batch":   i,
				"rules":   len(batch),
			}).Debug("Dispatched rule batch")
		}
	}
	return nil
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
