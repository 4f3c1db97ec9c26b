package source

import (
	"context"
	"errors"
	"log"
	"time"
)

// Backoff holds the fixed reconnect delays. There is no maximum retry count:
// a live chat source keeps retrying for the whole session.
type Backoff struct {
	AfterClose   time.Duration // socket closed or errored after it was opened
	AfterFailure time.Duration // bootstrap lookup failed before dialing
}

// DefaultBackoff matches the reconnect delays used by the dashboard
var DefaultBackoff = Backoff{
	AfterClose:   5 * time.Second,
	AfterFailure: 10 * time.Second,
}

// bootstrapError marks failures that happened before the socket was opened
type bootstrapError struct {
	err error
}

func (e *bootstrapError) Error() string { return "bootstrap: " + e.err.Error() }
func (e *bootstrapError) Unwrap() error { return e.err }

// Bootstrap wraps err so Supervise applies the longer failure backoff
func Bootstrap(err error) error {
	if err == nil {
		return nil
	}
	return &bootstrapError{err: err}
}

// IsBootstrap reports whether err came from a bootstrap step
func IsBootstrap(err error) bool {
	var be *bootstrapError
	return errors.As(err, &be)
}

// ConnectFunc runs a single connection attempt and returns when the
// connection ends. A nil error means the remote side closed cleanly.
type ConnectFunc func(ctx context.Context) error

// Supervise runs connect until ctx is cancelled, waiting the backoff delay
// between attempts. A cancelled ctx also cancels a pending reconnect wait.
func Supervise(ctx context.Context, name string, status *Status, backoff Backoff, connect ConnectFunc) error {
	for {
		status.Set(Connecting)
		err := connect(ctx)
		status.Set(Disconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.AfterClose
		if err != nil {
			status.SetError(err)
			if IsBootstrap(err) {
				delay = backoff.AfterFailure
			}
			log.Printf("%s connection error: %v. Retrying in %v", name, err, delay)
		} else {
			log.Printf("%s disconnected, reconnecting in %v", name, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
