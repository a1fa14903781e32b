package login

import (
	"context"
	"errors"
	"time"
)

type PollStatus int

const (
	PollPending PollStatus = iota
	PollSlowDown
	PollDone
)

var ErrDeviceCodeExpired = errors.New("device code expired before authorization completed")

// PollFunc asks the token endpoint once. It returns PollDone with a value on
// success, PollPending or PollSlowDown while the user has not finished, or
// an error that ends polling.
type PollFunc func(ctx context.Context) (PollStatus, string, error)

// PollDevice calls poll every interval until it completes, fails, or
// expiresIn elapses. slow_down responses add five seconds to the interval.
func PollDevice(ctx context.Context, interval, expiresIn time.Duration, poll PollFunc) (string, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if expiresIn > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, expiresIn)
		defer cancel()
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrDeviceCodeExpired
			}
			return "", ctx.Err()
		case <-timer.C:
		}

		status, value, err := poll(ctx)
		if err != nil {
			return "", err
		}
		switch status {
		case PollDone:
			return value, nil
		case PollSlowDown:
			interval += 5 * time.Second
		}
		timer.Reset(interval)
	}
}
