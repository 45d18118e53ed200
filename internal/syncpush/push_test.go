package syncpush

import (
	"context"
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/updatequeue"
)

// fakePort is a minimal core.TrackerPort whose ApplyUpdate outcome is
// scripted per-target by the test.
type fakePort struct {
	results map[string]core.UpdateResult
	errs    map[string]error
	applied []core.PendingUpdate
}

func newFakePort() *fakePort {
	return &fakePort{results: map[string]core.UpdateResult{}, errs: map[string]error{}}
}

func (p *fakePort) FetchParent(ctx context.Context, identifier string) (*core.ParentInfo, error) {
	return nil, nil
}
func (p *fakePort) FetchSubTasks(ctx context.Context, parentID string) ([]core.SubTaskPayload, error) {
	return nil, nil
}
func (p *fakePort) FetchStatus(ctx context.Context, identifier string) (string, error) {
	return "", nil
}
func (p *fakePort) ApplyUpdate(ctx context.Context, update core.PendingUpdate) (core.UpdateResult, error) {
	p.applied = append(p.applied, update)
	if err, ok := p.errs[update.Target]; ok {
		return core.UpdateResult{}, err
	}
	if r, ok := p.results[update.Target]; ok {
		return r, nil
	}
	return core.UpdateResult{Success: true}, nil
}
func (p *fakePort) IdentifierPattern() string { return "^[A-Z]+-[0-9]+$" }
func (p *fakePort) Name() string              { return "fake" }

func TestPush_SuccessfulStatusChangeMarksSyncedAndStampsBackendStatus(t *testing.T) {
	baseDir := t.TempDir()
	queue := updatequeue.New(baseDir)
	if _, err := queue.Enqueue("X-100", core.PendingUpdate{
		Type: core.UpdateStatusChange, Target: "X-101", NewStatus: "done",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	port := newFakePort()
	p := New(baseDir, port, nil)

	result, err := p.Push(context.Background(), "X-100")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Pushed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want {Pushed:1 Failed:0}", result)
	}
	if pending := queue.ListPending("X-100"); len(pending) != 0 {
		t.Fatalf("expected queue drained, got %+v", pending)
	}

	state, ok := p.state.Get("X-100")
	if !ok {
		t.Fatal("expected runtime state to exist after backend status stamp")
	}
	backend, ok := state.BackendStatuses["X-101"]
	if !ok || backend.Status != "done" {
		t.Fatalf("expected backend status done for X-101, got %+v", state.BackendStatuses)
	}
}

func TestPush_NonTerminalStatusChangeDoesNotStampBackendStatus(t *testing.T) {
	baseDir := t.TempDir()
	queue := updatequeue.New(baseDir)
	if _, err := queue.Enqueue("X-100", core.PendingUpdate{
		Type: core.UpdateStatusChange, Target: "X-101", NewStatus: "in_progress",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	port := newFakePort()
	p := New(baseDir, port, nil)

	if _, err := p.Push(context.Background(), "X-100"); err != nil {
		t.Fatalf("push: %v", err)
	}
	state, ok := p.state.Get("X-100")
	if ok {
		if _, stamped := state.BackendStatuses["X-101"]; stamped {
			t.Fatalf("expected no backend status stamp for a non-terminal status change")
		}
	}
}

// A failed push stamps the update's error, which also removes it from
// ListPending (IsPending requires error == ""); ClearError is how an
// out-of-band retry re-admits it to the next sweep.
func TestPush_FailureStampsErrorAndClearErrorReadmitsForRetry(t *testing.T) {
	baseDir := t.TempDir()
	queue := updatequeue.New(baseDir)
	update, err := queue.Enqueue("X-100", core.PendingUpdate{
		Type: core.UpdateAddComment, Target: "X-101", Comment: "needs work",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	port := newFakePort()
	port.errs["X-101"] = errors.New("tracker unreachable")
	p := New(baseDir, port, nil)

	result, err := p.Push(context.Background(), "X-100")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Pushed != 0 || result.Failed != 1 {
		t.Fatalf("result = %+v, want {Pushed:0 Failed:1}", result)
	}
	if pending := queue.ListPending("X-100"); len(pending) != 0 {
		t.Fatalf("a failed update must drop out of ListPending, got %+v", pending)
	}

	if _, err := queue.ClearError("X-100", update.ID); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if pending := queue.ListPending("X-100"); len(pending) != 1 {
		t.Fatalf("expected update readmitted to ListPending after ClearError, got %+v", pending)
	}
}

func TestPush_EmptyQueueIsNoop(t *testing.T) {
	baseDir := t.TempDir()
	port := newFakePort()
	p := New(baseDir, port, nil)

	result, err := p.Push(context.Background(), "X-100")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Pushed != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want zero value", result)
	}
	if len(port.applied) != 0 {
		t.Fatalf("expected ApplyUpdate never called for an empty queue")
	}
}
