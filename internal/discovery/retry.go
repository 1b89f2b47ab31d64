package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultDiscoverAttempts = 3
)

var (
	ErrDiscover = errors.New("discovery failed")

	// nolint:gomnd // time duration definitions are clear as is.
	retryDelayMin = 5 * time.Second
	// nolint:gomnd // time duration definitions are clear as is.
	retryDelayMax = 30 * time.Second
)

// DiscoverWithRetries runs a discovery, re-trying tries times with exponential backoff
// while the entry chassis is unreachable. Failures on deeper branches are never retried.
func DiscoverWithRetries(ctx context.Context, c *Controller, entryPath string, sk sink.Sink, tries int) (*Result, error) {
	attempts := 1

	delay := &backoff.Backoff{
		Min:    retryDelayMin,
		Max:    retryDelayMax,
		Factor: 2,
		Jitter: true,
	}

	if tries <= 0 {
		tries = defaultDiscoverAttempts
	}

	// loop returns when the entry chassis was scanned or after tries attempts
	for {
		attemptstr := fmt.Sprintf("%d/%d", attempts, tries)

		result, err := c.Discover(ctx, entryPath, sk)
		if err == nil {
			return result, nil
		}

		if !transport.IsConnectError(err) || ctx.Err() != nil {
			return result, err
		}

		c.logger.WithFields(
			logrus.Fields{
				"attempt": attemptstr,
				"entry":   entryPath,
				"err":     err,
			}).Debug("entry chassis unreachable")

		// return if attempts match tries
		if attempts >= tries {
			return result, errors.Wrapf(ErrDiscover, "attempts: %s, last error: %s", attemptstr, err.Error())
		}

		attempts++

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay.Duration()):
		}
	}
}
