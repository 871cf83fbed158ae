package domain

import (
	"context"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
)

type RetryPingOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
}

// RetryPing pings until the supervisor answers, doubling the interval between attempts.
// Only IO errors (connection refused and the like) are retried.
func RetryPing(ctx context.Context, client Contract, options RetryPingOptions, logger logging.Logger) error {
	logger.Debugf("Pinging...")

	var err error
	retryAttempts := options.RetryAttempts
	retryInterval := options.RetryInterval
	for {
		err = client.Ping(ctx)
		if err == nil || !errors.IsIOError(err) {
			break
		}

		retryAttempts--
		if retryAttempts <= 0 {
			break
		}

		logger.Infof("Ping failed, retrying in %s", retryInterval)

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return errors.NewCancelledError("ping cancelled", ctx.Err())
		}

		retryInterval = retryInterval * 2
	}

	if err != nil {
		logger.Errorf("Failed to ping: %v", err)
		return err
	}

	logger.Debugf("Ping done")
	return nil
}
