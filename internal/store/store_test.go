package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateTask_AndListOpenTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "write the changelog", []string{"bug", "docs"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated id")
	}

	tasks, err := s.ListOpenTasks(ctx)
	if err != nil {
		t.Fatalf("ListOpenTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 open task, got %d", len(tasks))
	}
	if tasks[0].Status != TaskStatusOpen {
		t.Errorf("expected status open, got %s", tasks[0].Status)
	}
	if len(tasks[0].Tags) != 2 {
		t.Errorf("expected 2 tags, got %+v", tasks[0].Tags)
	}
}

func TestCloseTask_MarksClosedAndExcludesFromOpenList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "ship the release", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := s.CloseTask(ctx, id); err != nil {
		t.Fatalf("CloseTask failed: %v", err)
	}

	tasks, err := s.ListOpenTasks(ctx)
	if err != nil {
		t.Fatalf("ListOpenTasks failed: %v", err)
	}
	for _, task := range tasks {
		if task.ID == id && task.Status == TaskStatusOpen {
			t.Fatalf("expected closed task to not report status open")
		}
	}
}

func TestCloseTask_AlreadyClosed_Errors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "one-shot", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := s.CloseTask(ctx, id); err != nil {
		t.Fatalf("first CloseTask failed: %v", err)
	}
	if err := s.CloseTask(ctx, id); err == nil {
		t.Fatalf("expected an error closing an already-closed task")
	}
}

func TestUpsertThread_AndGetThread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "mirror me", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	th := Thread{
		TaskID:           id,
		ThreadID:         "thread-1",
		StarterMessageID: "msg-1",
		Name:             ThreadName(Task{ID: id, Title: "mirror me"}),
	}
	if err := s.UpsertThread(ctx, th); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	got, err := s.GetThread(ctx, id)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a thread to be returned")
	}
	if got.ThreadID != "thread-1" {
		t.Errorf("expected thread_id=thread-1, got %s", got.ThreadID)
	}

	th.Archived = true
	th.ThreadID = "thread-1"
	if err := s.UpsertThread(ctx, th); err != nil {
		t.Fatalf("UpsertThread (update) failed: %v", err)
	}
	got, err = s.GetThread(ctx, id)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if !got.Archived {
		t.Errorf("expected archived=true after update")
	}
}

func TestGetThread_NoneExists_ReturnsNil(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetThread(ctx, "no-such-task")
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil thread, got %+v", got)
	}
}

func TestListOrphanedThreads_ReportsThreadsWithoutATask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, "soon to vanish", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := s.UpsertThread(ctx, Thread{TaskID: id, ThreadID: "thread-x", StarterMessageID: "msg-x", Name: "x"}); err != nil {
		t.Fatalf("UpsertThread failed: %v", err)
	}

	if err := s.DeleteTask(ctx, id); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	orphans, err := s.ListOrphanedThreads(ctx)
	if err != nil {
		t.Fatalf("ListOrphanedThreads failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].TaskID != id {
		t.Fatalf("expected exactly one orphaned thread for %s, got %+v", id, orphans)
	}
}
