package verifier

import (
	"context"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const minWaitDelay = 10 * time.Millisecond

// WaitForProvider polls the provider until it answers any request, or until
// wait has elapsed. Any response counts, whatever its status.
func WaitForProvider(ctx context.Context, transport Transport, wait, delay time.Duration) error {
	if wait <= 0 {
		return nil
	}
	if delay <= 0 {
		delay = minWaitDelay
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	attempt := 0
	err := retry.Do(func() error {
		attempt++
		_, err := transport.Do(ctx, Request{Method: http.MethodGet, Path: "/"})
		return err
	},
		retry.Context(ctx),
		retry.Attempts(uint(wait/delay)+1),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("attempt", n+1).Debugf("provider not ready: %v", err)
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "provider did not answer within %s (%d attempts)", wait, attempt)
	}
	return nil
}
