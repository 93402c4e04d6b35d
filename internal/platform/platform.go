// Package platform defines the opaque forum-platform collaborator
// interfaces the coordinator passes through to the sync engine without
// interpreting. It intentionally knows nothing about any concrete chat
// provider; the engine is the only code that calls through these handles.
package platform

import (
	"context"
	"errors"
)

// ErrNotReady is returned by Client.ArchiveThread when the platform has not
// yet caught up with a close (e.g. a pending edit still in flight). The
// reference sync engine treats it as a deferred close rather than a
// failure, surfacing it through SyncResult.ClosesDeferred so the
// coordinator schedules the fixed-delay retry.
var ErrNotReady = errors.New("platform: resource not ready")

// Client is the opaque platform-client handle (spec.md §6's "client").
// Method shapes are the minimal set the reference sync engine needs to
// mirror a task into a forum thread.
type Client interface {
	CreateThread(ctx context.Context, guild Forum, name, starterBody string) (threadID, starterMessageID string, err error)
	EditStarterMessage(ctx context.Context, guild Forum, threadID, messageID, body string) error
	RenameThread(ctx context.Context, guild Forum, threadID, name string) error
	ArchiveThread(ctx context.Context, guild Forum, threadID string) error
	SetThreadTags(ctx context.Context, guild Forum, threadID string, tagIDs []string) error
}

// Forum is the opaque forum-scope handle (spec.md §6's "guild").
type Forum interface {
	ID() string
}

// forumID is the minimal concrete Forum used by NoopClient and tests.
type forumID string

func (f forumID) ID() string { return string(f) }

// NewForum wraps a raw forum identifier as a Forum handle.
func NewForum(id string) Forum { return forumID(id) }

// NoopClient is a logging-only Client used when no real platform SDK is
// wired in — by the reference engine's examples, and by tests that do not
// care about actual platform calls. It fabricates ids deterministically
// from the thread name so repeated calls are idempotent in tests.
type NoopClient struct{}

func (NoopClient) CreateThread(_ context.Context, _ Forum, name, _ string) (string, string, error) {
	return "thread-" + name, "msg-" + name, nil
}

func (NoopClient) EditStarterMessage(context.Context, Forum, string, string, string) error {
	return nil
}

func (NoopClient) RenameThread(context.Context, Forum, string, string) error {
	return nil
}

func (NoopClient) ArchiveThread(context.Context, Forum, string) error {
	return nil
}

func (NoopClient) SetThreadTags(context.Context, Forum, string, []string) error {
	return nil
}
