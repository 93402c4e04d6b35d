// Package coordinator is the concurrency core of the task-thread sync
// daemon: it decides when a sync pass runs, which callers wait for it, and
// how follow-up passes are scheduled after local-side lifecycle operations.
// It never touches the network or filesystem itself — every collaborator
// (task store, platform client, forum scope, status poster, tag-map file)
// is an opaque handle the coordinator orchestrates but does not interpret.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	clockpkg "github.com/basket/threadsync/internal/clock"
)

// SyncOrigin distinguishes a sync triggered by a human action from one
// triggered by a file-watcher event. Only watcher-origin calls are subject
// to suppression.
type SyncOrigin string

const (
	// SyncOriginUser is the default origin. It bypasses suppression.
	SyncOriginUser SyncOrigin = "user"
	// SyncOriginWatcher marks a sync triggered by the local file watcher.
	// Subject to suppression windows opened by SuppressSync.
	SyncOriginWatcher SyncOrigin = "watcher"
)

// normalize returns SyncOriginUser for the Go zero value, matching the
// spec's origin defaulting to "user" when unspecified.
func (o SyncOrigin) normalize() SyncOrigin {
	if o == "" {
		return SyncOriginUser
	}
	return o
}

// StatusPoster is an optional capability the sync engine may call on
// completion to post a human-readable status line. The coordinator never
// invokes it directly — it only threads it through to the engine.
type StatusPoster interface {
	PostStatus(ctx context.Context, message string) error
}

// PlatformClient, ForumScope, TaskStore, and Runtime are opaque handles the
// coordinator forwards to the sync engine unexamined. They are type aliases
// to `any` rather than empty interfaces with methods because the
// coordinator has no business calling anything on them — only the sync
// engine implementation (internal/syncengine) and the caller's concrete
// wiring (internal/store, internal/platform) know their real shape.
type (
	PlatformClient = any
	ForumScope     = any
	TaskStore      = any
	Runtime        = any
)

// SyncResult is produced by one engine invocation. All fields besides
// ClosesDeferred are opaque to the coordinator: it forwards them to the
// caller unchanged. ClosesDeferred, when positive, triggers the
// deferred-close retry (see retry.go).
type SyncResult struct {
	ThreadsCreated  int
	StartersUpdated int
	ThreadsRenamed  int
	ThreadsArchived int
	StatusFixes     int
	TagUpdates      int
	Warnings        int
	Reconciliations int
	OrphanedThreads int
	ClosesDeferred  int
}

// CoalescedIntent is the merged superset of what coalesced callers asked
// for while a pass was in flight. StatusPoster is the most recently
// provided one; Origin upgrades monotonically from watcher to user.
type CoalescedIntent struct {
	StatusPoster StatusPoster
	Origin       SyncOrigin
}

// merge folds a newly coalesced caller's parameters into the intent,
// creating it if this is the first coalesced caller. It never downgrades
// Origin from user back to watcher, and only replaces StatusPoster when a
// non-nil one is provided.
func (ci *CoalescedIntent) merge(statusPoster StatusPoster, origin SyncOrigin) *CoalescedIntent {
	origin = origin.normalize()
	if ci == nil {
		return &CoalescedIntent{StatusPoster: statusPoster, Origin: origin}
	}
	if statusPoster != nil {
		ci.StatusPoster = statusPoster
	}
	if origin == SyncOriginUser {
		ci.Origin = SyncOriginUser
	}
	return ci
}

// suppressionState tracks the suppression register: either inactive, or
// active with a deadline and a flag recording whether a catch-up pass has
// already been queued for the current window.
type suppressionState struct {
	active        bool
	until         time.Time
	catchUpQueued bool
}

// activeAt reports whether watcher-origin syncs are suppressed at instant now.
func (s suppressionState) activeAt(now time.Time) bool {
	return s.active && s.until.After(now)
}

// ThreadCache is the module-level thread cache the coordinator invalidates
// on the trailing edge of every successful engine invocation. Invalidation
// is expected to be idempotent; a nil Cache means there is nothing to
// invalidate (tests commonly run without one).
type ThreadCache interface {
	Invalidate(ctx context.Context) error
}

// TagMapLoader reads a tag-name -> tag-id mapping from a file and rewrites
// dst in place, returning the new entry count. See internal/tagmap for the
// production implementation.
type TagMapLoader interface {
	Load(path string, dst map[string]string) (int, error)
}

// Options configures a Coordinator. Fields other than AutoTagModel and
// Runtime are immutable after construction; those two are mutated through
// SetAutoTagModel/SetRuntime, atomically with respect to in-flight passes.
type Options struct {
	ForumID              string
	TagMap               map[string]string // mutable, owned by the coordinator
	TagMapPath           string            // optional
	TaskStore            TaskStore
	Log                  *slog.Logger
	Client               PlatformClient
	Guild                ForumScope
	SidebarMentionUserID string // optional
	AutoTag              bool
	AutoTagModel         string
	Runtime              Runtime
	Engine               SyncEngine // optional pre-wired engine adapter
	TagMapLoader         TagMapLoader
	Cache                ThreadCache
	Clock                clockpkg.Clock // optional; defaults to the real clock
	Tracer               trace.Tracer   // optional; defaults to a no-op tracer
}
