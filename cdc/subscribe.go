package cdc

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/deltakernel/deltakernel/errs"
)

// SubscribeOptions configures a Subscribe call (§4.7).
type SubscribeOptions struct {
	Filter       Filter
	PollInterval time.Duration
	OnError      func(error)
}

func (o SubscribeOptions) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return time.Second
	}
	return o.PollInterval
}

// Subscribe starts a single background loop that polls for newly committed
// versions and invokes handler once per matching record, in sequence order
// (§4.7). The loop is cooperative: handler calls happen one at a time on the
// subscription's own goroutine, so a slow handler simply delays the next
// poll rather than racing another invocation of itself.
//
// A handler error or panic is caught, forwarded to opts.OnError if set, and
// does not stop the loop or affect any other subscription. Subscribe returns
// an unsubscribe function; calling it stops the loop before its next poll,
// letting an in-flight handler invocation finish.
func (r *Reader) Subscribe(ctx context.Context, logger log.Logger, handler func(Record) error, opts SubscribeOptions) func() {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(opts.pollInterval())
		defer ticker.Stop()

		lastVersion := int64(-1)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lastVersion = r.pollOnce(ctx, logger, handler, opts, lastVersion)
			}
		}
	}()

	return cancel
}

// pollOnce reads any versions newer than lastVersion and dispatches their
// matching records to handler, returning the new high-water version.
func (r *Reader) pollOnce(ctx context.Context, logger log.Logger, handler func(Record) error, opts SubscribeOptions, lastVersion int64) int64 {
	latest, err := r.engine.ReadLatest(ctx)
	if err != nil {
		reportError(logger, opts.OnError, err)
		return lastVersion
	}
	if r.metrics != nil {
		r.metrics.subscriberLag.Set(float64(latest.Version - lastVersion))
	}
	if latest.Version <= lastVersion {
		return lastVersion
	}

	records, err := r.ReadByVersion(ctx, lastVersion+1, latest.Version)
	if err != nil {
		if errs.IsRetryable(err) {
			// transient: try again on the next tick without advancing.
			reportError(logger, opts.OnError, err)
			return lastVersion
		}
		reportError(logger, opts.OnError, err)
		return latest.Version
	}

	sortBySequence(records)
	for _, rec := range opts.Filter.Apply(records) {
		invokeHandler(logger, handler, rec, opts.OnError)
	}
	return latest.Version
}

// invokeHandler calls handler for one record, recovering from a panic the
// same way a caught error is handled (§4.7 "catches handler exceptions").
func invokeHandler(logger log.Logger, handler func(Record) error, rec Record, onError func(error)) {
	defer func() {
		if p := recover(); p != nil {
			err := errs.Newf(errs.KindCDC, "cdc subscriber handler panicked: %v", p)
			reportError(logger, onError, err)
		}
	}()
	if err := handler(rec); err != nil {
		reportError(logger, onError, err)
	}
}

func reportError(logger log.Logger, onError func(error), err error) {
	level.Warn(logger).Log("msg", "cdc subscription error", "err", err)
	if onError != nil {
		onError(err)
	}
}

