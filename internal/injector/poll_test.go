package injector

import (
	"context"
	"errors"
	"testing"
	"time"
)

// sequence returns a reader that yields ips in order and then repeats the
// last one.
func sequence(calls *int, ips ...uintptr) pointerReader {
	return func() (uintptr, error) {
		i := *calls
		*calls++
		if i >= len(ips) {
			i = len(ips) - 1
		}
		return ips[i], nil
	}
}

func TestPollUntilExactMatch(t *testing.T) {
	const entry = 0x401000
	calls := 0
	read := sequence(&calls, 0x7FF0, entry-1, entry+1, entry)

	if err := pollUntil(context.Background(), entry, time.Second, time.Millisecond, read); err != nil {
		t.Fatalf("pollUntil failed: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected success on the 4th sample, took %d", calls)
	}
}

func TestPollUntilBounded(t *testing.T) {
	calls := 0
	read := sequence(&calls, 0x401002)

	start := time.Now()
	err := pollUntil(context.Background(), 0x401000, 50*time.Millisecond, 10*time.Millisecond, read)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected several samples inside the bound, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("bounded wait took %v, want about 50ms", elapsed)
	}
}

// A reader slower than the poll interval must not stretch the wait to a
// multiple of the bound.
func TestPollUntilSlowReaderKeepsBound(t *testing.T) {
	calls := 0
	slow := func() (uintptr, error) {
		calls++
		time.Sleep(15 * time.Millisecond)
		return 0x401002, nil
	}

	const bound = 100 * time.Millisecond
	start := time.Now()
	err := pollUntil(context.Background(), 0x401000, bound, 10*time.Millisecond, slow)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	// One read may start just before the deadline and finish after it.
	if elapsed > bound+15*time.Millisecond+50*time.Millisecond {
		t.Fatalf("wait bounded by %v took %v over %d samples", bound, elapsed, calls)
	}
}

func TestPollUntilShortBoundCutsSleep(t *testing.T) {
	calls := 0
	start := time.Now()
	err := pollUntil(context.Background(), 0x401000, 20*time.Millisecond, time.Hour, sequence(&calls, 0))
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sleep not cut to the bound: took %v", elapsed)
	}
	if calls != 2 {
		t.Fatalf("expected a sample at the start and one at the deadline, got %d", calls)
	}
}

func TestPollUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := pollUntil(ctx, 0x401000, time.Hour, time.Hour, sequence(&calls, 0))
	if !errors.Is(err, ErrWaitTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation wrapped in ErrWaitTimeout, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one sample before noticing cancellation, got %d", calls)
	}
}

func TestPollUntilDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := pollUntil(ctx, 0x401000, time.Hour, 5*time.Millisecond, sequence(&calls, 0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPollUntilProcessGone(t *testing.T) {
	calls := 0
	read := func() (uintptr, error) {
		calls++
		if calls == 3 {
			return 0, ErrProcessGone
		}
		return 0x1000, nil
	}
	err := pollUntil(context.Background(), 0x401000, time.Second, time.Millisecond, read)
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("expected ErrProcessGone, got %v", err)
	}
	if errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("process exit must not be reported as a timeout")
	}
}
