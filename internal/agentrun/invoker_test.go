//go:build !windows

package agentrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

func scriptCLI(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInvoke_Success(t *testing.T) {
	cli := scriptCLI(t, `echo '{"status":"SUBTASK_COMPLETE","timestamp":"2026-01-01T00:00:00Z","identifier":"X-101"}'`)
	inv := New(nil)
	task := core.SubTask{ID: "1", Identifier: "X-101"}
	res := inv.Invoke(context.Background(), task, t.TempDir(), Config{CLI: cli, Timeout: 5 * time.Second})

	if !res.Success || res.Status != StatusSubTaskComplete {
		t.Fatalf("unexpected result: %+v (err=%v)", res, res.Error)
	}
}

func TestInvoke_VerificationFailed(t *testing.T) {
	cli := scriptCLI(t, `echo '{"status":"FAIL","timestamp":"2026-01-01T00:00:00Z"}'`)
	inv := New(nil)
	task := core.SubTask{ID: "1", Identifier: "X-101"}
	res := inv.Invoke(context.Background(), task, t.TempDir(), Config{CLI: cli, Timeout: 5 * time.Second})

	if res.Success || res.Status != StatusVerificationFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	cli := scriptCLI(t, `sleep 5`)
	inv := New(nil)
	task := core.SubTask{ID: "1", Identifier: "X-101"}
	res := inv.Invoke(context.Background(), task, t.TempDir(), Config{CLI: cli, Timeout: 200 * time.Millisecond})

	if res.Status != StatusError || res.Error == nil {
		t.Fatalf("expected timeout ERROR result, got %+v", res)
	}
}

func TestInvoke_UnparseableOutputIsError(t *testing.T) {
	cli := scriptCLI(t, `echo 'not json at all'`)
	inv := New(nil)
	task := core.SubTask{ID: "1", Identifier: "X-101"}
	res := inv.Invoke(context.Background(), task, t.TempDir(), Config{CLI: cli, Timeout: 5 * time.Second})

	if res.Status != StatusError {
		t.Fatalf("expected ERROR for unparseable output, got %+v", res)
	}
}
