package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

// fakeEngine is a test double for SyncEngine. Every invocation is recorded;
// if block is non-nil, Sync waits for it to be closed before returning,
// which lets tests pin down exactly when a pass is "in flight".
type fakeEngine struct {
	mu         sync.Mutex
	invocations int
	params      []EngineParams

	block    chan struct{}
	calledCh chan struct{}

	result *SyncResult
	err    error
	fn     func(call int) (*SyncResult, error)
}

func (f *fakeEngine) Sync(ctx context.Context, p EngineParams) (*SyncResult, error) {
	f.mu.Lock()
	f.invocations++
	call := f.invocations
	f.params = append(f.params, p)
	block := f.block
	f.mu.Unlock()

	if f.calledCh != nil {
		f.calledCh <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if f.fn != nil {
		return f.fn(call)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &SyncResult{}, nil
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invocations
}

type fakeStatusPoster struct{ name string }

func (f *fakeStatusPoster) PostStatus(ctx context.Context, message string) error { return nil }

type fakeCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *fakeCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

func (c *fakeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recv waits for a signal on ch or fails the test after timeout.
func recv(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestCoordinator(engine SyncEngine, clk *clocktesting.FakeClock, cache ThreadCache) *Coordinator {
	return New(Options{
		ForumID: "forum-1",
		Log:     testLogger(),
		Engine:  engine,
		Clock:   clk,
		Cache:   cache,
	})
}

// --- Idempotence law: two successive idle syncs each invoke the engine once. ---

func TestSync_TwoSuccessiveIdleCalls_EachInvokeEngineOnce(t *testing.T) {
	engine := &fakeEngine{}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	if _, err := c.Sync(context.Background(), nil, ""); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if _, err := c.Sync(context.Background(), nil, ""); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 engine invocations, got %d", got)
	}
}

// --- Scenario 1: coalesce without upgrade. ---

func TestSync_CoalesceWithoutUpgrade(t *testing.T) {
	engine := &fakeEngine{
		block:    make(chan struct{}),
		calledCh: make(chan struct{}, 4),
		result:   &SyncResult{ThreadsCreated: 1},
	}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	type syncOutcome struct {
		result *SyncResult
		err    error
	}
	doneA := make(chan syncOutcome, 1)
	go func() {
		r, err := c.Sync(context.Background(), nil, "")
		doneA <- syncOutcome{r, err}
	}()

	recv(t, engine.calledCh, time.Second, "call A to enter the engine")

	// Call B coalesces: it must return immediately with no result.
	resultB, errB := c.Sync(context.Background(), nil, "")
	if resultB != nil || errB != nil {
		t.Fatalf("expected coalesced call B to return (nil, nil), got (%v, %v)", resultB, errB)
	}

	close(engine.block)

	outcomeA := <-doneA
	if outcomeA.err != nil {
		t.Fatalf("call A failed: %v", outcomeA.err)
	}
	if outcomeA.result == nil || outcomeA.result.ThreadsCreated != 1 {
		t.Fatalf("call A did not resolve to the engine result: %+v", outcomeA.result)
	}

	// The coalesced caller triggers exactly one follow-up pass.
	recv(t, engine.calledCh, time.Second, "follow-up pass")

	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 total engine invocations, got %d", got)
	}
}

// --- Scenario 2: user upgrade of a watcher-originated pass. ---

func TestSync_UserUpgradesWatcherPass(t *testing.T) {
	engine := &fakeEngine{
		block:    make(chan struct{}),
		calledCh: make(chan struct{}, 4),
	}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	go c.Sync(context.Background(), nil, SyncOriginWatcher)
	recv(t, engine.calledCh, time.Second, "watcher pass to enter the engine")

	poster := &fakeStatusPoster{name: "poster"}
	resultB, errB := c.Sync(context.Background(), poster, SyncOriginUser)
	if resultB != nil || errB != nil {
		t.Fatalf("expected coalesced call B to return (nil, nil)")
	}

	c.SuppressSync(5000)

	close(engine.block)
	recv(t, engine.calledCh, time.Second, "follow-up pass to bypass suppression")

	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 total engine invocations (user origin bypasses suppression), got %d", got)
	}

	engine.mu.Lock()
	followUpParams := engine.params[1]
	engine.mu.Unlock()
	if followUpParams.StatusPoster != poster {
		t.Fatalf("expected follow-up to carry the upgraded status poster")
	}
}

// --- Scenario 3: pure watcher follow-up respects suppression. ---

func TestSync_PureWatcherFollowUpRespectsSuppression(t *testing.T) {
	engine := &fakeEngine{
		block:    make(chan struct{}),
		calledCh: make(chan struct{}, 4),
	}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	go c.Sync(context.Background(), nil, SyncOriginWatcher)
	recv(t, engine.calledCh, time.Second, "watcher pass to enter the engine")

	resultB, errB := c.Sync(context.Background(), nil, SyncOriginWatcher)
	if resultB != nil || errB != nil {
		t.Fatalf("expected coalesced watcher call to return (nil, nil)")
	}

	c.SuppressSync(5000)
	close(engine.block)

	// Give the follow-up goroutine a moment to run; it must NOT call the
	// engine immediately because suppression is now active.
	select {
	case <-engine.calledCh:
		t.Fatalf("follow-up should have been suppressed, not run immediately")
	case <-time.After(100 * time.Millisecond):
	}
	if got := engine.count(); got != 1 {
		t.Fatalf("expected exactly 1 engine invocation before the catch-up fires, got %d", got)
	}

	clk.Step(5*time.Second + 2*time.Millisecond)
	recv(t, engine.calledCh, time.Second, "catch-up pass")

	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 total engine invocations (one catch-up), got %d", got)
	}
}

// --- Scenario 4: deferred-close retry. ---

func TestSync_DeferredCloseRetry(t *testing.T) {
	engine := &fakeEngine{
		calledCh: make(chan struct{}, 4),
		result:   &SyncResult{ClosesDeferred: 1},
	}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	if _, err := c.Sync(context.Background(), nil, ""); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	recv(t, engine.calledCh, time.Second, "initial call recorded")
	if got := engine.count(); got != 1 {
		t.Fatalf("expected 1 engine invocation before the retry, got %d", got)
	}

	clk.Step(30 * time.Second)
	recv(t, engine.calledCh, time.Second, "deferred-close retry pass")
	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 engine invocations after the retry delay, got %d", got)
	}

	clk.Step(5 * time.Second)
	select {
	case <-engine.calledCh:
		t.Fatalf("no further retry should fire after the single scheduled one")
	case <-time.After(100 * time.Millisecond):
	}
}

// --- Scenario 5: engine failure keeps the cache intact. ---

func TestSync_EngineFailureKeepsCacheIntact(t *testing.T) {
	boom := errors.New("platform api unavailable")
	engine := &fakeEngine{err: boom}
	cache := &fakeCache{}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, cache)

	_, err := c.Sync(context.Background(), nil, "")
	if err == nil {
		t.Fatalf("expected engine failure to propagate")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected an *EngineError, got %T: %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error to unwrap to the engine failure")
	}
	if got := cache.count(); got != 0 {
		t.Fatalf("expected 0 cache invalidations on failure, got %d", got)
	}

	// A subsequent sync succeeds and invalidates the cache exactly once.
	engine.fn = func(call int) (*SyncResult, error) { return &SyncResult{}, nil }
	engine.err = nil
	if _, err := c.Sync(context.Background(), nil, ""); err != nil {
		t.Fatalf("expected the coordinator to remain usable after a failure: %v", err)
	}
	if got := cache.count(); got != 1 {
		t.Fatalf("expected exactly 1 cache invalidation after the successful pass, got %d", got)
	}
}

// --- Scenario 6: multiple coalesced watcher calls schedule exactly one catch-up. ---

func TestSync_MultipleCoalescedWatcherCallsScheduleOneCatchUp(t *testing.T) {
	engine := &fakeEngine{calledCh: make(chan struct{}, 4)}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	c.SuppressSync(100)

	for i := 0; i < 3; i++ {
		result, err := c.Sync(context.Background(), nil, SyncOriginWatcher)
		if result != nil || err != nil {
			t.Fatalf("call %d: expected suppressed call to return (nil, nil)", i)
		}
	}

	clk.Step(100*time.Millisecond + time.Millisecond)
	recv(t, engine.calledCh, time.Second, "the single catch-up pass")

	select {
	case <-engine.calledCh:
		t.Fatalf("expected only one catch-up invocation for the window")
	case <-time.After(100 * time.Millisecond):
	}
	if got := engine.count(); got != 1 {
		t.Fatalf("expected exactly 1 engine invocation, got %d", got)
	}
}

// --- SuppressSync round-trip law. ---

func TestSuppressSync_WindowExpiryLaw(t *testing.T) {
	engine := &fakeEngine{calledCh: make(chan struct{}, 4)}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	c.SuppressSync(1000)

	result, err := c.Sync(context.Background(), nil, SyncOriginWatcher)
	if result != nil || err != nil {
		t.Fatalf("expected suppressed watcher call to return (nil, nil)")
	}
	if got := engine.count(); got != 0 {
		t.Fatalf("expected no engine invocation while suppression is active, got %d", got)
	}

	// Drain the scheduled catch-up so it doesn't interfere with the next assertion.
	clk.Step(1001 * time.Millisecond)
	recv(t, engine.calledCh, time.Second, "catch-up pass")

	// Now the window has lapsed: a fresh watcher call proceeds normally.
	if _, err := c.Sync(context.Background(), nil, SyncOriginWatcher); err != nil {
		t.Fatalf("expected watcher call after window expiry to run the engine: %v", err)
	}
	if got := engine.count(); got != 2 {
		t.Fatalf("expected 2 total engine invocations, got %d", got)
	}
}

func TestSetAutoTagModel_And_SetRuntime(t *testing.T) {
	engine := &fakeEngine{}
	clk := clocktesting.NewFakeClock(time.Now())
	c := newTestCoordinator(engine, clk, nil)

	c.SetAutoTagModel("gemini-3-flash-preview")
	c.SetRuntime("runtime-handle")

	if _, err := c.Sync(context.Background(), nil, ""); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	got := engine.params[0]
	if got.AutoTagModel != "gemini-3-flash-preview" {
		t.Fatalf("expected snapshot to carry the updated auto-tag model, got %q", got.AutoTagModel)
	}
	if got.Runtime != "runtime-handle" {
		t.Fatalf("expected snapshot to carry the updated runtime, got %v", got.Runtime)
	}
}
