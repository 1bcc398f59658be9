// Package collect queues call state changes for publishing, so that the
// capture path never waits on a broker.
package collect

import (
	"context"
	"fmt"

	"github.com/nextcaller/sip-dialogs/dialog"
	"github.com/nextcaller/sip-dialogs/filters"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrFull indicates that more outstanding events await publishing than
	// the Collecter can queue; the event passed to Accept will not be
	// published.
	ErrFull = constError("publish queue is full")
)

type publisher func(context.Context, *Msg) error

type queued struct {
	msg     *Msg
	trigger *dialog.Message
}

// Collecter receives call state change events, discarding those whose
// triggering message doesn't match the configured filter, and publishes
// the rest.  Accept never blocks, making it suitable as a dialog.Store
// event sink.
type Collecter struct {
	metrics *Metrics
	match   filters.Filter
	publish publisher
	events  chan queued
}

// NewCollecter returns a Collecter that publishes events whose triggering
// message passes match (all events if match is nil) with publish.  depth
// controls how many events may be queued before excess ones are dropped.
func NewCollecter(match filters.Filter, publish publisher, depth int) *Collecter {
	if match == nil {
		match = filters.Pass
	}
	return &Collecter{
		match:   match,
		publish: publish,
		metrics: NewMetrics(),
		events:  make(chan queued, depth),
	}
}

// Accept snapshots the event's call and enqueues it.  If the queue is full
// the event is dropped and an error returned.
func (c *Collecter) Accept(e dialog.Event) error {
	select {
	case c.events <- queued{msg: NewMsg(e), trigger: e.Message}:
		return nil
	default:
		c.metrics.Dropped.Inc()
		return fmt.Errorf("dropping %v event for %v: %w", e.To, e.Call.ID(), ErrFull)
	}
}

// Publish blocks until ctx is done, consuming the queue, filtering out
// unwanted events and publishing the rest.
func (c *Collecter) Publish(ctx context.Context) {
	log := zerolog.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-c.events:
			if !c.match(q.trigger) {
				c.metrics.Rejected.Inc()
				log.Debug().Str("callid", q.msg.ID).Msg("discarding event that does not match filter")
				continue
			}
			if err := c.publish(ctx, q.msg); err != nil {
				c.metrics.Failed.Inc()
				log.Err(err).Str("callid", q.msg.ID).Str("state", q.msg.State).Msg("publish failed")
				continue
			}
			c.metrics.Published.Inc()
		}
	}
}

// SetFilterInfo records the filter source in the filter info metric.
func (c *Collecter) SetFilterInfo(src string) {
	c.metrics.Filter.WithLabelValues(src).Set(1)
}

// Metrics returns a list of prometheus.Collector interfaces, suitable for
// passing to prometheus.Registry to export event publishing metrics.
func (c *Collecter) Metrics() []prometheus.Collector { return c.metrics.List() }
