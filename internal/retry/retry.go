// Package retry provides a generic poll-until-success helper.
//
// The clock is injectable so callers' timeout behavior can be tested
// without real sleeping. Timeouts here follow the same policy as the
// rest of the tool: fatal once the configured limit is reached.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/log"
)

const (
	// DefaultInterval is the pause between polls.
	DefaultInterval = 1 * time.Second

	// DefaultTimeout bounds the total polling time. Conversions block
	// on external resources (a mount appearing, a device settling);
	// past this limit the resource is considered broken, not slow.
	DefaultTimeout = 30 * time.Second
)

// Config controls one polling loop. Zero fields take the defaults; Now
// and Sleep exist for tests.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
	Sleep    func(time.Duration)
}

// Until polls fn until it reports done, the context is canceled, or the
// timeout elapses. Errors from fn stop the loop immediately; a timeout
// is reported wrapping context.DeadlineExceeded.
func Until(ctx context.Context, cfg Config, fn func(context.Context) (bool, error)) error {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	deadline := cfg.Now().Add(cfg.Timeout)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !cfg.Now().Add(cfg.Interval).Before(deadline) {
			log.G(ctx).WithField("attempts", attempt).Debug("polling timed out")
			return fmt.Errorf("timed out after %s: %w", cfg.Timeout, context.DeadlineExceeded)
		}
		cfg.Sleep(cfg.Interval)
	}
}
