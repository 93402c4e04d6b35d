// Package syncengine implements the default sync engine adapter named in
// spec.md §4.5: a function that walks the task store, reconciles each
// task's mirrored thread, and returns a SyncResult. The coordinator treats
// it as an opaque collaborator; nothing in this package knows about
// coalescing, suppression, or retry scheduling — that is the coordinator's
// job.
package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/basket/threadsync/internal/coordinator"
	"github.com/basket/threadsync/internal/platform"
	"github.com/basket/threadsync/internal/store"
)

// Default is the zero-value reference implementation of
// coordinator.SyncEngine. It requires the coordinator's TaskStore, Client,
// and Guild handles to actually be a *store.Store, platform.Client, and
// platform.Forum respectively — Sync returns an error if they are not,
// rather than panicking on a bad type assertion.
type Default struct{}

func (Default) Sync(ctx context.Context, params coordinator.EngineParams) (*coordinator.SyncResult, error) {
	taskStore, ok := params.TaskStore.(*store.Store)
	if !ok {
		return nil, fmt.Errorf("syncengine: TaskStore is not a *store.Store (got %T)", params.TaskStore)
	}
	client, ok := params.Client.(platform.Client)
	if !ok {
		return nil, fmt.Errorf("syncengine: Client is not a platform.Client (got %T)", params.Client)
	}
	guild, ok := params.Guild.(platform.Forum)
	if !ok {
		return nil, fmt.Errorf("syncengine: Guild is not a platform.Forum (got %T)", params.Guild)
	}

	result := &coordinator.SyncResult{}

	tasks, err := taskStore.ListOpenTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: list open tasks: %w", err)
	}

	for _, task := range tasks {
		if err := reconcileTask(ctx, taskStore, client, guild, params, task, result); err != nil {
			return nil, fmt.Errorf("syncengine: reconcile task %s: %w", task.ID, err)
		}
		result.Reconciliations++
	}

	orphans, err := taskStore.ListOrphanedThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: list orphaned threads: %w", err)
	}
	for _, th := range orphans {
		if err := client.ArchiveThread(ctx, guild, th.ThreadID); err != nil {
			if errors.Is(err, platform.ErrNotReady) {
				result.ClosesDeferred++
				continue
			}
			result.Warnings++
			continue
		}
		if err := taskStore.DeleteThread(ctx, th.TaskID); err != nil {
			return nil, fmt.Errorf("syncengine: delete orphaned thread row for %s: %w", th.TaskID, err)
		}
		result.OrphanedThreads++
	}

	if params.StatusPoster != nil {
		if err := params.StatusPoster.PostStatus(ctx, summarize(result)); err != nil {
			result.Warnings++
		}
	}

	return result, nil
}

func reconcileTask(
	ctx context.Context,
	taskStore *store.Store,
	client platform.Client,
	guild platform.Forum,
	params coordinator.EngineParams,
	task store.Task,
	result *coordinator.SyncResult,
) error {
	desiredName := store.ThreadName(task)
	starterBody := starterBody(task, params.MentionUserID)

	thread, err := taskStore.GetThread(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("get thread: %w", err)
	}

	if thread == nil {
		threadID, starterMessageID, err := client.CreateThread(ctx, guild, desiredName, starterBody)
		if err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		if err := taskStore.UpsertThread(ctx, store.Thread{
			TaskID:           task.ID,
			ThreadID:         threadID,
			StarterMessageID: starterMessageID,
			Name:             desiredName,
		}); err != nil {
			return fmt.Errorf("persist new thread: %w", err)
		}
		result.ThreadsCreated++
		thread = &store.Thread{TaskID: task.ID, ThreadID: threadID, StarterMessageID: starterMessageID, Name: desiredName}
	} else if thread.Name != desiredName {
		if err := client.RenameThread(ctx, guild, thread.ThreadID, desiredName); err != nil {
			return fmt.Errorf("rename thread: %w", err)
		}
		thread.Name = desiredName
		result.ThreadsRenamed++
	}

	if err := client.EditStarterMessage(ctx, guild, thread.ThreadID, thread.StarterMessageID, starterBody); err != nil {
		result.Warnings++
	} else {
		result.StartersUpdated++
	}

	if params.AutoTag {
		tagIDs, unresolved := resolveTagIDs(task.Tags, params.TagMap)
		result.Warnings += unresolved
		if len(tagIDs) > 0 {
			if err := client.SetThreadTags(ctx, guild, thread.ThreadID, tagIDs); err != nil {
				result.Warnings++
			} else {
				result.TagUpdates++
			}
		}
	}

	if task.Status == store.TaskStatusClosed && !thread.Archived {
		if err := client.ArchiveThread(ctx, guild, thread.ThreadID); err != nil {
			if errors.Is(err, platform.ErrNotReady) {
				result.ClosesDeferred++
				return nil
			}
			return fmt.Errorf("archive thread: %w", err)
		}
		thread.Archived = true
		result.ThreadsArchived++
		result.StatusFixes++
	}

	if err := taskStore.UpsertThread(ctx, *thread); err != nil {
		return fmt.Errorf("persist thread state: %w", err)
	}
	return nil
}

func starterBody(task store.Task, mentionUserID string) string {
	if mentionUserID == "" {
		return task.Title
	}
	return fmt.Sprintf("<@%s> %s", mentionUserID, task.Title)
}

func resolveTagIDs(tagNames []string, tagMap map[string]string) (ids []string, unresolved int) {
	for _, name := range tagNames {
		id, ok := tagMap[name]
		if !ok {
			unresolved++
			continue
		}
		ids = append(ids, id)
	}
	return ids, unresolved
}

func summarize(r *coordinator.SyncResult) string {
	return fmt.Sprintf(
		"sync complete: %d created, %d renamed, %d archived, %d tag updates, %d warnings",
		r.ThreadsCreated, r.ThreadsRenamed, r.ThreadsArchived, r.TagUpdates, r.Warnings,
	)
}
