// Package linear implements a Tracker Port backed by a Linear-shaped REST
// surface — tracker "A" of the two issue-tracker backends the engine talks
// to in production, built as a concrete backend rather than left abstract
// so the engine is runnable end-to-end.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

// IdentifierPattern is tracker A's canonical identifier format.
const IdentifierPattern = `^[A-Z]+-[0-9]+$`

var identifierRe = regexp.MustCompile(IdentifierPattern)

// Client is a minimal REST client for a Linear-shaped issue-tracking API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client against baseURL, authenticating with apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) IdentifierPattern() string { return IdentifierPattern }
func (c *Client) Name() string              { return "linear" }

type issueDTO struct {
	ID         string       `json:"id"`
	Identifier string       `json:"identifier"`
	Title      string       `json:"title"`
	Status     string       `json:"status"`
	BranchName string       `json:"branchName"`
	BlockedBy  []blockerDTO `json:"blockedBy"`
}

type blockerDTO struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
}

func (c *Client) FetchParent(ctx context.Context, identifier string) (*core.ParentInfo, error) {
	if !identifierRe.MatchString(identifier) {
		return nil, core.NewDomainError(core.CategoryValidation, "bad_identifier", "identifier does not match tracker A's pattern", nil)
	}
	var dto issueDTO
	found, err := c.getJSON(ctx, fmt.Sprintf("/issues/%s", identifier), &dto)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &core.ParentInfo{ID: dto.ID, Identifier: dto.Identifier, Title: dto.Title, BranchName: dto.BranchName}, nil
}

func (c *Client) FetchSubTasks(ctx context.Context, parentID string) ([]core.SubTaskPayload, error) {
	var dtos []issueDTO
	_, err := c.getJSON(ctx, fmt.Sprintf("/issues/%s/subtasks", parentID), &dtos)
	if err != nil {
		return nil, err
	}
	out := make([]core.SubTaskPayload, 0, len(dtos))
	for _, d := range dtos {
		blockers := make([]core.BlockerRef, 0, len(d.BlockedBy))
		for _, b := range d.BlockedBy {
			blockers = append(blockers, core.BlockerRef{ID: b.ID, Identifier: b.Identifier})
		}
		out = append(out, core.SubTaskPayload{
			ID: d.ID, Identifier: d.Identifier, Title: d.Title, Status: d.Status,
			BranchName: d.BranchName, BlockedBy: blockers,
		})
	}
	return out, nil
}

func (c *Client) FetchStatus(ctx context.Context, identifier string) (string, error) {
	var dto issueDTO
	found, err := c.getJSON(ctx, fmt.Sprintf("/issues/%s", identifier), &dto)
	if err != nil {
		// Unreachable is surfaced as an empty status, not a hard error, so
		// the execution tracker can treat it as a verification disagreement.
		return "", nil
	}
	if !found {
		return "", nil
	}
	return dto.Status, nil
}

func (c *Client) ApplyUpdate(ctx context.Context, update core.PendingUpdate) (core.UpdateResult, error) {
	body, path, err := buildUpdateRequest(update)
	if err != nil {
		return core.UpdateResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return core.UpdateResult{}, core.NewDomainError(core.CategoryInternal, "request_build_failed", "failed to build update request", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return core.UpdateResult{Success: false, Error: err}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return core.UpdateResult{Success: false, Error: fmt.Errorf("tracker A returned status %d", resp.StatusCode)}, nil
	}
	return core.UpdateResult{Success: true}, nil
}

func buildUpdateRequest(update core.PendingUpdate) ([]byte, string, error) {
	switch update.Type {
	case core.UpdateStatusChange:
		b, err := json.Marshal(map[string]string{"status": update.NewStatus})
		return b, fmt.Sprintf("/issues/%s/status", update.Target), err
	case core.UpdateAddComment:
		b, err := json.Marshal(map[string]string{"body": update.Comment})
		return b, fmt.Sprintf("/issues/%s/comments", update.Target), err
	case core.UpdateCreateSubTask:
		b, err := json.Marshal(map[string]any{"title": update.Title, "blockedBy": update.BlockedBy})
		return b, fmt.Sprintf("/issues/%s/subtasks", update.Target), err
	case core.UpdateDescriptionChange:
		b, err := json.Marshal(map[string]string{"description": update.Description})
		return b, fmt.Sprintf("/issues/%s/description", update.Target), err
	case core.UpdateAddLabel:
		b, err := json.Marshal(map[string]string{"label": update.Label})
		return b, fmt.Sprintf("/issues/%s/labels", update.Target), err
	case core.UpdateRemoveLabel:
		b, err := json.Marshal(map[string]string{"label": update.Label})
		return b, fmt.Sprintf("/issues/%s/labels/remove", update.Target), err
	default:
		return nil, "", core.NewDomainError(core.CategoryValidation, "unknown_update_type", fmt.Sprintf("unknown update type %q", update.Type), nil)
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// getJSON issues a GET and decodes the response into v; a 404 reports
// found=false with no error, matching the Tracker Port's "null on
// not-found" contract.
func (c *Client) getJSON(ctx context.Context, path string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, core.NewDomainError(core.CategoryInternal, "request_build_failed", "failed to build request", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, core.NewDomainError(core.CategoryTrackerUnreachable, "http_failed", "tracker A request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return false, core.NewDomainError(core.CategoryTrackerUnreachable, "bad_status", fmt.Sprintf("tracker A returned %d: %s", resp.StatusCode, body), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, core.NewDomainError(core.CategoryInternal, "decode_failed", "failed to decode tracker A response", err)
	}
	return true, nil
}
