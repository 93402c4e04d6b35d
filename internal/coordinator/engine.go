package coordinator

import (
	"context"
	"log/slog"
)

// EngineParams is the parameter record passed to the sync engine on each
// invocation. TagMap is a snapshot (a shallow copy taken before the engine
// suspends) — the engine must not observe later mutations to the
// coordinator's live map.
type EngineParams struct {
	Client        PlatformClient
	Guild         ForumScope
	ForumID       string
	TagMap        map[string]string
	TaskStore     TaskStore
	Log           *slog.Logger
	StatusPoster  StatusPoster
	MentionUserID string
	AutoTag       bool
	AutoTagModel  string
	Runtime       Runtime
}

// SyncEngine is the opaque collaborator that walks tasks and threads and
// issues the platform API calls for one full sync pass. The coordinator
// makes no assumption about its internal concurrency beyond that it
// returns, or fails, in bounded time.
type SyncEngine interface {
	Sync(ctx context.Context, params EngineParams) (*SyncResult, error)
}
