package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
)

var errCallFailed = errors.New("call failed")

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *testClock) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	b := New(Config{
		Name:             "test-dependency",
		FailureThreshold: threshold,
		Timeout:          timeout,
		Clock:            clock.Now,
	})
	return b, clock
}

func fail(b *Breaker) error {
	return b.Do(func() error { return errCallFailed })
}

func succeed(b *Breaker) error {
	return b.Do(func() error { return nil })
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := fail(b); !errors.Is(err, errCallFailed) {
			t.Fatalf("call %d: err = %v, want pass-through failure", i, err)
		}
	}

	if b.State() != Open {
		t.Fatalf("state = %v after threshold failures, want Open", b.State())
	}

	// Next call must be rejected without invoking the function.
	invoked := false
	err := b.Do(func() error { invoked = true; return nil })
	if invoked {
		t.Error("wrapped function invoked while breaker open")
	}
	if !api.IsKind(err, api.ErrorKindCircuitOpen) {
		t.Errorf("err = %v, want circuit_open", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	fail(b)
	fail(b)
	succeed(b)

	if got := b.FailureCount(); got != 0 {
		t.Errorf("failureCount = %d after success, want 0", got)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	fail(b)
	fail(b)
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	// Before the timeout the breaker stays open.
	clock.Advance(30 * time.Second)
	if err := succeed(b); !api.IsKind(err, api.ErrorKindCircuitOpen) {
		t.Fatalf("err = %v before timeout, want circuit_open", err)
	}

	// After the timeout the next call is the half-open trial and runs.
	clock.Advance(31 * time.Second)
	invoked := false
	if err := b.Do(func() error { invoked = true; return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if !invoked {
		t.Fatal("trial call was not executed")
	}
	if b.State() != Closed {
		t.Errorf("state = %v after trial success, want Closed", b.State())
	}
	if b.FailureCount() != 0 {
		t.Errorf("failureCount = %d after trial success, want 0", b.FailureCount())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	fail(b)
	fail(b)
	clock.Advance(2 * time.Minute)

	if err := fail(b); !errors.Is(err, errCallFailed) {
		t.Fatalf("trial call err = %v, want pass-through failure", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v after trial failure, want Open", b.State())
	}

	// lastFailureTime was reset: the breaker must reject until another
	// full timeout elapses.
	clock.Advance(30 * time.Second)
	if err := succeed(b); !api.IsKind(err, api.ErrorKindCircuitOpen) {
		t.Errorf("err = %v, want circuit_open until timeout elapses again", err)
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	fail(b)
	clock.Advance(2 * time.Minute)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Do(func() error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted

	// A concurrent call while the trial is in flight must be rejected.
	if err := succeed(b); !api.IsKind(err, api.ErrorKindCircuitOpen) {
		t.Errorf("concurrent call err = %v, want circuit_open", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial err = %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)

	fail(b)
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v after reset, want Closed", b.State())
	}
	if b.FailureCount() != 0 {
		t.Errorf("failureCount = %d after reset, want 0", b.FailureCount())
	}
	if err := succeed(b); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}

func TestConcurrentFailuresRace(t *testing.T) {
	b, _ := newTestBreaker(50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(b)
		}()
	}
	wg.Wait()

	if b.State() != Open {
		t.Errorf("state = %v after concurrent failures, want Open", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var states []State
	clock := &testClock{now: time.Unix(0, 0)}
	b := New(Config{
		Name:             "cb",
		FailureThreshold: 1,
		Timeout:          time.Second,
		Clock:            clock.Now,
		OnStateChange: func(name string, s State) {
			states = append(states, s)
		},
	})

	fail(b)
	clock.Advance(2 * time.Second)
	succeed(b)

	want := []State{Open, HalfOpen, Closed}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, states[i], want[i])
		}
	}
}
