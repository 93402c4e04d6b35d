package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	clockpkg "github.com/basket/threadsync/internal/clock"
	"github.com/basket/threadsync/internal/shared"
	"github.com/basket/threadsync/internal/tagmap"
)

type defaultTagMapLoader struct{}

func (defaultTagMapLoader) Load(path string, dst map[string]string) (int, error) {
	return tagmap.Load(path, dst)
}

// Coordinator is bound to one forum: one task store, one tag map, one
// logger. It is constructed once at startup and lives for the process
// lifetime. All state transitions (the in-flight flag, the coalesced
// intent, the suppression register) are serialized by mu, which stands in
// for the single scheduling context spec.md §5 describes — on a
// single-threaded event-loop host this would be a plain field, but Go
// callers are ordinary goroutines, so a mutex held across every
// check-and-set is what gives the same exclusion guarantee.
type Coordinator struct {
	mu sync.Mutex

	forumID              string
	tagMap               map[string]string
	tagMapPath           string
	taskStore            TaskStore
	log                  *slog.Logger
	client               PlatformClient
	guild                ForumScope
	sidebarMentionUserID string
	autoTag              bool
	autoTagModel         string
	runtime              Runtime
	engine               SyncEngine
	tagMapLoader         TagMapLoader
	cache                ThreadCache
	clk                  clockpkg.Clock
	tracer               trace.Tracer

	suppression suppressionState
	inFlight    bool
	coalesced   *CoalescedIntent
}

// New constructs a Coordinator. The returned value is ready to use; it is
// never destroyed, only left to be garbage collected with the process.
func New(opts Options) *Coordinator {
	if opts.TagMap == nil {
		opts.TagMap = map[string]string{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockpkg.Real
	}
	if opts.TagMapLoader == nil {
		opts.TagMapLoader = defaultTagMapLoader{}
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("threadsync/coordinator")
	}
	return &Coordinator{
		forumID:              opts.ForumID,
		tagMap:               opts.TagMap,
		tagMapPath:           opts.TagMapPath,
		taskStore:            opts.TaskStore,
		log:                  opts.Log,
		client:               opts.Client,
		guild:                opts.Guild,
		sidebarMentionUserID: opts.SidebarMentionUserID,
		autoTag:              opts.AutoTag,
		autoTagModel:         opts.AutoTagModel,
		runtime:              opts.Runtime,
		engine:               opts.Engine,
		tagMapLoader:         opts.TagMapLoader,
		cache:                opts.Cache,
		clk:                  opts.Clock,
		tracer:               opts.Tracer,
	}
}

// SetAutoTagModel atomically updates the auto-tag model. A concurrently
// in-flight engine call continues to see the value it was invoked with —
// parameters are snapshotted per invocation in runPass.
func (c *Coordinator) SetAutoTagModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoTagModel = model
}

// SetRuntime atomically updates the runtime handle. See SetAutoTagModel.
func (c *Coordinator) SetRuntime(runtime Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime = runtime
}

// SuppressSync opens (or extends) a suppression window: watcher-origin
// syncs are deferred until windowMs from now. Called by the component that
// performs local-store mutations, immediately before committing, so the
// watcher-driven re-sync does not race the in-progress mutation.
//
// If suppression is already active, the new deadline overwrites the
// existing one. catchUpQueued resets to false only if the new deadline is
// strictly later than the old one; otherwise the existing flag (and thus
// an already-queued catch-up) is preserved, per spec.md §9's "exactly one
// catch-up per contiguous window" guarantee.
func (c *Coordinator) SuppressSync(windowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newUntil := c.clk.Now().Add(msToDuration(windowMs))
	if !c.suppression.active {
		c.suppression.active = true
		c.suppression.until = newUntil
		c.suppression.catchUpQueued = false
		return
	}
	if newUntil.After(c.suppression.until) {
		c.suppression.catchUpQueued = false
	}
	c.suppression.until = newUntil
}

// Sync is the single public entry point for running (or coalescing into,
// or deferring) a sync pass. It also re-enters itself for follow-up,
// catch-up, and deferred-close-retry passes (see retry.go) — those are
// modeled as ordinary Sync calls so they get exactly the same
// suppression/coalescing evaluation a fresh caller would.
//
// A nil result with a nil error means the caller was suppressed or
// coalesced and should not expect a result. A non-nil error means this
// caller entered the in-flight state itself and the engine failed; no
// other caller is informed of that failure.
func (c *Coordinator) Sync(ctx context.Context, statusPoster StatusPoster, origin SyncOrigin) (*SyncResult, error) {
	origin = origin.normalize()

	c.mu.Lock()
	if origin == SyncOriginWatcher && c.suppression.activeAt(c.clk.Now()) {
		until := c.suppression.until
		alreadyQueued := c.suppression.catchUpQueued
		c.suppression.catchUpQueued = true
		c.mu.Unlock()
		if !alreadyQueued {
			c.scheduleCatchUp(until)
		}
		return nil, nil
	}

	if c.inFlight {
		c.coalesced = c.coalesced.merge(statusPoster, origin)
		c.mu.Unlock()
		return nil, nil
	}

	c.inFlight = true
	c.coalesced = nil
	c.mu.Unlock()

	return c.runPass(ctx, statusPoster, origin)
}

// runPass performs one actual engine invocation: optional tag-map reload,
// parameter snapshot, the engine call itself, and the trailing success/
// failure handling described in spec.md §4.1 steps 4-8. The caller must
// already hold the in-flight slot (inFlight was just set true).
func (c *Coordinator) runPass(ctx context.Context, statusPoster StatusPoster, origin SyncOrigin) (*SyncResult, error) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	log := c.log.With("trace_id", traceID, "origin", string(origin), "forum_id", c.forumID)

	ctx, passSpan := c.tracer.Start(ctx, "coordinator.sync_pass")
	defer passSpan.End()

	c.mu.Lock()
	path := c.tagMapPath
	tagMap := c.tagMap
	c.mu.Unlock()

	if path != "" {
		_, reloadSpan := c.tracer.Start(ctx, "coordinator.tagmap_reload")
		if _, err := c.tagMapLoader.Load(path, tagMap); err != nil {
			log.Warn("tag-map reload failed; using cached map", "error", shared.Redact(err.Error()))
		}
		reloadSpan.End()
	}

	c.mu.Lock()
	snapshot := make(map[string]string, len(c.tagMap))
	for k, v := range c.tagMap {
		snapshot[k] = v
	}
	params := EngineParams{
		Client:        c.client,
		Guild:         c.guild,
		ForumID:       c.forumID,
		TagMap:        snapshot,
		TaskStore:     c.taskStore,
		Log:           log,
		StatusPoster:  statusPoster,
		MentionUserID: c.sidebarMentionUserID,
		AutoTag:       c.autoTag,
		AutoTagModel:  c.autoTagModel,
		Runtime:       c.runtime,
	}
	engine := c.engine
	c.mu.Unlock()

	engineCtx, engineSpan := c.tracer.Start(ctx, "coordinator.engine_invocation")
	result, err := engine.Sync(engineCtx, params)
	engineSpan.End()
	if err != nil {
		c.mu.Lock()
		c.inFlight = false
		// Invariant: no follow-up is spawned on failure, even if callers coalesced.
		c.coalesced = nil
		c.mu.Unlock()
		return nil, &EngineError{Err: err}
	}

	if c.cache != nil {
		_, cacheSpan := c.tracer.Start(ctx, "coordinator.cache_invalidate")
		if cerr := c.cache.Invalidate(ctx); cerr != nil {
			log.Warn("thread cache invalidation failed", "error", cerr)
		}
		cacheSpan.End()
	}

	if result.ClosesDeferred > 0 {
		c.scheduleDeferredCloseRetry()
	}

	c.mu.Lock()
	c.inFlight = false
	intent := c.coalesced
	c.coalesced = nil
	c.mu.Unlock()

	if intent != nil {
		go c.runFollowUp(*intent)
	}

	return result, nil
}

// runFollowUp re-enters Sync with the merged coalesced intent. Its failure
// is logged and never surfaced — the coalesced callers already got None.
func (c *Coordinator) runFollowUp(intent CoalescedIntent) {
	if _, err := c.Sync(context.Background(), intent.StatusPoster, intent.Origin); err != nil {
		c.log.Warn("coordinator follow-up sync failed", "error", err)
	}
}
