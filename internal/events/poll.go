package events

import (
	"context"
	"time"

	"github.com/comit-node/rfc003/pkg/logging"
)

// poll repeatedly calls check until it returns a non-nil result, a definitive
// error, or ctx is cancelled. Transient failures (wrapped in ErrWatcherFault) are
// logged and retried rather than propagated — §7 error kind 4 requires the
// engine never terminate a swap over a watcher outage. The wait between checks
// is interval; each consecutive fault doubles it, up to maxFaultWait, and a
// check without a fault resets it to interval.
func poll[R any](ctx context.Context, log *logging.Logger, interval time.Duration, check func(context.Context) (*R, error)) (*R, error) {
	const maxFaultWait = 5 * time.Minute
	wait := interval

	for {
		result, err := check(ctx)
		if err != nil {
			if fault, ok := err.(*ErrWatcherFault); ok {
				log.Warn("watcher fault, retrying", "error", fault.Cause, "retry_in", wait)
			} else {
				return nil, err
			}
		} else if result != nil {
			return result, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if err == nil {
			wait = interval
		} else if wait < maxFaultWait {
			wait = min(2*wait, maxFaultWait)
		}
	}
}
