package local

import (
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("failed to open local tracker: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFetchParent_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()
	if err := Seed(ctx, c, "p1", "LOC-1", "Parent", nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	parent, err := c.FetchParent(ctx, "LOC-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parent == nil || parent.Identifier != "LOC-1" || parent.Title != "Parent" {
		t.Fatalf("unexpected parent: %+v", parent)
	}
}

func TestFetchParent_NotFound(t *testing.T) {
	c := newTestClient(t)
	parent, err := c.FetchParent(t.Context(), "LOC-999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parent != nil {
		t.Fatalf("expected nil, got %+v", parent)
	}
}

func TestFetchParent_BadIdentifier(t *testing.T) {
	c := newTestClient(t)
	_, err := c.FetchParent(t.Context(), "ENG-1")
	if err == nil {
		t.Fatal("expected validation error for non-LOC identifier")
	}
}

func TestFetchSubTasksWithBlockers(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()
	subs := []core.SubTaskPayload{
		{ID: "s1", Identifier: "LOC-2", Title: "First"},
		{ID: "s2", Identifier: "LOC-3", Title: "Second", BlockedBy: []core.BlockerRef{{ID: "s1"}}},
	}
	if err := Seed(ctx, c, "p1", "LOC-1", "Parent", subs); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := c.FetchSubTasks(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sub-tasks, got %d", len(got))
	}
	if len(got[1].BlockedBy) != 1 || got[1].BlockedBy[0].Identifier != "LOC-2" {
		t.Fatalf("expected second sub-task blocked by LOC-2, got %+v", got[1].BlockedBy)
	}
}

func TestApplyUpdate_StatusChangeAndComment(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()
	if err := Seed(ctx, c, "p1", "LOC-1", "Parent", []core.SubTaskPayload{{ID: "s1", Identifier: "LOC-2", Title: "First"}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := c.ApplyUpdate(ctx, core.PendingUpdate{Type: core.UpdateStatusChange, Target: "LOC-2", NewStatus: "done"})
	if err != nil || !result.Success {
		t.Fatalf("status change failed: err=%v result=%+v", err, result)
	}
	status, err := c.FetchStatus(ctx, "LOC-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "done" {
		t.Fatalf("expected done, got %q", status)
	}

	result, err = c.ApplyUpdate(ctx, core.PendingUpdate{Type: core.UpdateAddComment, Target: "LOC-2", Comment: "looks good"})
	if err != nil || !result.Success {
		t.Fatalf("add comment failed: err=%v result=%+v", err, result)
	}
}

func TestApplyUpdate_CreateSubTask(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()
	if err := Seed(ctx, c, "p1", "LOC-1", "Parent", nil); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := c.ApplyUpdate(ctx, core.PendingUpdate{Type: core.UpdateCreateSubTask, Target: "LOC-1", Title: "New sub-task"})
	if err != nil || !result.Success {
		t.Fatalf("create sub-task failed: err=%v result=%+v", err, result)
	}

	subs, err := c.FetchSubTasks(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 1 || subs[0].Title != "New sub-task" {
		t.Fatalf("unexpected sub-tasks: %+v", subs)
	}
}

func TestFetchStatus_MissingIdentifierIsUnreachableNotError(t *testing.T) {
	c := newTestClient(t)
	status, err := c.FetchStatus(t.Context(), "LOC-999")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if status != "" {
		t.Fatalf("expected empty status, got %q", status)
	}
}
