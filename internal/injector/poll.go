package injector

import (
	"context"
	"fmt"
	"time"
)

// pointerReader samples a remote thread's instruction pointer. It returns
// ErrProcessGone once the target has exited.
type pointerReader func() (uintptr, error)

// pollUntil samples read until it reports target, sleeping interval between
// samples, for no longer than bound. Time spent inside read counts against
// the bound, and the last sleep is cut to what remains of it. Success is
// only ever reported for an exact match.
func pollUntil(ctx context.Context, target uintptr, bound, interval time.Duration, read pointerReader) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	deadline := time.Now().Add(bound)
	samples := 0
	var last uintptr
	for {
		ip, err := read()
		if err != nil {
			return err
		}
		samples++
		if ip == target {
			return nil
		}
		last = ip

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: instruction pointer at %s after %v (%d samples), want %s",
				ErrWaitTimeout, hexAddr(last), bound, samples, hexAddr(target))
		}
		timer.Reset(min(interval, remaining))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrWaitTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}
