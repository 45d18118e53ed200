// Package github implements a Tracker Port backed by the gh CLI, treating
// GitHub issues with a task-list body convention as parent/sub-task
// graphs — tracker "B" of the two issue-tracker backends, adapted from the
// gh-wrapping pattern of the source repository's issue client.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

// IdentifierPattern is tracker B's canonical identifier format.
const IdentifierPattern = `^[A-Z]+-[0-9]+$`

// taskListItemRe matches one GitHub task-list line, e.g. "- [x] X-101 Title".
var taskListItemRe = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*([A-Z]+-[0-9]+)\s+(.*)$`)

const defaultTimeout = 15 * time.Second

// Client wraps the gh CLI. repo is "<owner>/<name>".
type Client struct {
	repo    string
	ghPath  string
	timeout time.Duration
}

func New(repo string) *Client {
	return &Client{repo: repo, ghPath: "gh", timeout: defaultTimeout}
}

func (c *Client) IdentifierPattern() string { return IdentifierPattern }
func (c *Client) Name() string              { return "github" }

// run invokes gh with args, bounded by c.timeout, and returns stdout.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.ghPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, core.NewDomainError(core.CategoryTimeout, "gh_timeout", "gh CLI invocation timed out", err)
		}
		return nil, core.NewDomainError(core.CategoryTrackerUnreachable, "gh_failed", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Body   string `json:"body"`
}

func (c *Client) issueNumber(identifier string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(identifier, "GH-%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func (c *Client) FetchParent(ctx context.Context, identifier string) (*core.ParentInfo, error) {
	n, ok := c.issueNumber(identifier)
	if !ok {
		return nil, core.NewDomainError(core.CategoryValidation, "bad_identifier", "identifier does not match tracker B's pattern", nil)
	}
	out, err := c.run(ctx, "issue", "view", fmt.Sprintf("%d", n), "--repo", c.repo, "--json", "number,title,state,body")
	if err != nil {
		if de, ok := err.(*core.DomainError); ok && de.Category == core.CategoryTrackerUnreachable {
			return nil, nil
		}
		return nil, err
	}
	var issue ghIssue
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, core.NewDomainError(core.CategoryInternal, "decode_failed", "failed to decode gh issue view output", err)
	}
	return &core.ParentInfo{ID: identifier, Identifier: identifier, Title: issue.Title, BranchName: ""}, nil
}

// FetchSubTasks parses the parent issue's body for a GitHub task-list and
// treats each checked item as a done sub-task, each unchecked item as
// pending. Sub-task identifiers are synthesized from the parent's and the
// item's position since GitHub task-list items carry no native blockedBy.
func (c *Client) FetchSubTasks(ctx context.Context, parentID string) ([]core.SubTaskPayload, error) {
	n, ok := c.issueNumber(parentID)
	if !ok {
		return nil, core.NewDomainError(core.CategoryValidation, "bad_identifier", "identifier does not match tracker B's pattern", nil)
	}
	out, err := c.run(ctx, "issue", "view", fmt.Sprintf("%d", n), "--repo", c.repo, "--json", "body")
	if err != nil {
		return nil, err
	}
	var issue struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(out, &issue); err != nil {
		return nil, core.NewDomainError(core.CategoryInternal, "decode_failed", "failed to decode gh issue view output", err)
	}
	return parseTaskListBody(issue.Body), nil
}

// parseTaskListBody turns a GitHub task-list issue body into sub-task
// payloads, modeling list order as a linear dependency chain since a
// GitHub task-list item carries no native blockedBy field.
func parseTaskListBody(body string) []core.SubTaskPayload {
	var payloads []core.SubTaskPayload
	var previousID string
	for _, line := range strings.Split(body, "\n") {
		m := taskListItemRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		checked := strings.EqualFold(m[1], "x")
		identifier, title := m[2], m[3]
		status := "pending"
		if checked {
			status = "done"
		}
		var blockedBy []core.BlockerRef
		if previousID != "" {
			blockedBy = []core.BlockerRef{{ID: previousID, Identifier: previousID}}
		}
		payloads = append(payloads, core.SubTaskPayload{
			ID: identifier, Identifier: identifier, Title: title, Status: status, BlockedBy: blockedBy,
		})
		previousID = identifier
	}
	return payloads
}

// FetchStatus always reports unreachable for tracker B: a task-list item's
// status lives only inside its parent issue's body, and this port has no
// parent identifier to resolve it against out of band. The execution
// tracker treats an empty status as a verification disagreement, which is
// the conservative outcome here.
func (c *Client) FetchStatus(ctx context.Context, identifier string) (string, error) {
	return "", nil
}

func (c *Client) ApplyUpdate(ctx context.Context, update core.PendingUpdate) (core.UpdateResult, error) {
	switch update.Type {
	case core.UpdateAddComment:
		if n, ok := c.issueNumber(update.Target); ok {
			_, err := c.run(ctx, "issue", "comment", fmt.Sprintf("%d", n), "--repo", c.repo, "--body", update.Comment)
			if err != nil {
				return core.UpdateResult{Success: false, Error: err}, nil
			}
		}
		return core.UpdateResult{Success: true}, nil
	case core.UpdateStatusChange:
		if n, ok := c.issueNumber(update.Target); ok {
			args := []string{"issue", "edit", fmt.Sprintf("%d", n), "--repo", c.repo}
			if strings.EqualFold(update.NewStatus, "done") {
				args = []string{"issue", "close", fmt.Sprintf("%d", n), "--repo", c.repo}
			}
			_, err := c.run(ctx, args...)
			if err != nil {
				return core.UpdateResult{Success: false, Error: err}, nil
			}
		}
		return core.UpdateResult{Success: true}, nil
	case core.UpdateAddLabel:
		if n, ok := c.issueNumber(update.Target); ok {
			_, err := c.run(ctx, "issue", "edit", fmt.Sprintf("%d", n), "--repo", c.repo, "--add-label", update.Label)
			if err != nil {
				return core.UpdateResult{Success: false, Error: err}, nil
			}
		}
		return core.UpdateResult{Success: true}, nil
	case core.UpdateRemoveLabel:
		if n, ok := c.issueNumber(update.Target); ok {
			_, err := c.run(ctx, "issue", "edit", fmt.Sprintf("%d", n), "--repo", c.repo, "--remove-label", update.Label)
			if err != nil {
				return core.UpdateResult{Success: false, Error: err}, nil
			}
		}
		return core.UpdateResult{Success: true}, nil
	default:
		return core.UpdateResult{}, core.NewDomainError(core.CategoryValidation, "unsupported_update", fmt.Sprintf("tracker B does not support update type %q", update.Type), nil)
	}
}
