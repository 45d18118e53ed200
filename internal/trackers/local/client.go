// Package local implements a Tracker Port backed by an embedded SQLite
// database rather than an external service — a self-contained backend for
// running the orchestrator without any network-reachable issue tracker.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-orchestrator/internal/core"
)

// IdentifierPattern is tracker C's canonical identifier format.
const IdentifierPattern = `^LOC-[0-9]+$`

var identifierRe = regexp.MustCompile(IdentifierPattern)

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	identifier TEXT UNIQUE NOT NULL,
	parent_id TEXT,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	branch_name TEXT,
	description TEXT
);
CREATE TABLE IF NOT EXISTS blockers (
	issue_id TEXT NOT NULL,
	blocker_id TEXT NOT NULL,
	PRIMARY KEY (issue_id, blocker_id)
);
CREATE TABLE IF NOT EXISTS comments (
	issue_id TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS labels (
	issue_id TEXT NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (issue_id, label)
);
`

// Client is a sqlite-backed Tracker Port, suitable for local runs and
// offline development where no real issue tracker is reachable.
type Client struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, core.NewDomainError(core.CategoryInternal, "sqlite_open_failed", "failed to open local tracker database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, core.NewDomainError(core.CategoryInternal, "sqlite_schema_failed", "failed to apply local tracker schema", err)
	}
	return &Client{db: db}, nil
}

func (c *Client) Close() error { return c.db.Close() }

func (c *Client) IdentifierPattern() string { return IdentifierPattern }
func (c *Client) Name() string              { return "local" }

func (c *Client) FetchParent(ctx context.Context, identifier string) (*core.ParentInfo, error) {
	if !identifierRe.MatchString(identifier) {
		return nil, core.NewDomainError(core.CategoryValidation, "bad_identifier", "identifier does not match tracker C's pattern", nil)
	}
	row := c.db.QueryRowContext(ctx, `SELECT id, identifier, title, branch_name FROM issues WHERE identifier = ?`, identifier)
	var id, ident, title string
	var branch sql.NullString
	if err := row.Scan(&id, &ident, &title, &branch); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, core.NewDomainError(core.CategoryTrackerUnreachable, "query_failed", "failed to query local tracker", err)
	}
	return &core.ParentInfo{ID: id, Identifier: ident, Title: title, BranchName: branch.String}, nil
}

func (c *Client) FetchSubTasks(ctx context.Context, parentID string) ([]core.SubTaskPayload, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, identifier, title, status, branch_name FROM issues WHERE parent_id = ? ORDER BY identifier`, parentID)
	if err != nil {
		return nil, core.NewDomainError(core.CategoryTrackerUnreachable, "query_failed", "failed to query local tracker sub-tasks", err)
	}
	defer rows.Close()

	var out []core.SubTaskPayload
	for rows.Next() {
		var id, identifier, title, status string
		var branch sql.NullString
		if err := rows.Scan(&id, &identifier, &title, &status, &branch); err != nil {
			return nil, core.NewDomainError(core.CategoryInternal, "scan_failed", "failed to scan local tracker row", err)
		}
		blockers, err := c.fetchBlockers(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, core.SubTaskPayload{
			ID: id, Identifier: identifier, Title: title, Status: status,
			BranchName: branch.String, BlockedBy: blockers,
		})
	}
	return out, rows.Err()
}

func (c *Client) fetchBlockers(ctx context.Context, issueID string) ([]core.BlockerRef, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT b.blocker_id, i.identifier FROM blockers b JOIN issues i ON i.id = b.blocker_id WHERE b.issue_id = ?`, issueID)
	if err != nil {
		return nil, core.NewDomainError(core.CategoryTrackerUnreachable, "query_failed", "failed to query local tracker blockers", err)
	}
	defer rows.Close()

	var refs []core.BlockerRef
	for rows.Next() {
		var id, identifier string
		if err := rows.Scan(&id, &identifier); err != nil {
			return nil, core.NewDomainError(core.CategoryInternal, "scan_failed", "failed to scan blocker row", err)
		}
		refs = append(refs, core.BlockerRef{ID: id, Identifier: identifier})
	}
	return refs, rows.Err()
}

func (c *Client) FetchStatus(ctx context.Context, identifier string) (string, error) {
	row := c.db.QueryRowContext(ctx, `SELECT status FROM issues WHERE identifier = ?`, identifier)
	var status string
	if err := row.Scan(&status); err != nil {
		// A missing row or a live database error both collapse to an empty
		// status: the execution tracker treats that as disagreement, not a
		// hard failure, matching the other backends' unreachable contract.
		return "", nil
	}
	return status, nil
}

func (c *Client) ApplyUpdate(ctx context.Context, update core.PendingUpdate) (core.UpdateResult, error) {
	var execErr error
	switch update.Type {
	case core.UpdateStatusChange:
		_, execErr = c.db.ExecContext(ctx, `UPDATE issues SET status = ? WHERE identifier = ?`, update.NewStatus, update.Target)
	case core.UpdateAddComment:
		_, execErr = c.db.ExecContext(ctx, `INSERT INTO comments (issue_id, body) SELECT id, ? FROM issues WHERE identifier = ?`, update.Comment, update.Target)
	case core.UpdateCreateSubTask:
		execErr = c.createSubTask(ctx, update)
	case core.UpdateDescriptionChange:
		_, execErr = c.db.ExecContext(ctx, `UPDATE issues SET description = ? WHERE identifier = ?`, update.Description, update.Target)
	case core.UpdateAddLabel:
		_, execErr = c.db.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) SELECT id, ? FROM issues WHERE identifier = ?`, update.Label, update.Target)
	case core.UpdateRemoveLabel:
		_, execErr = c.db.ExecContext(ctx, `DELETE FROM labels WHERE label = ? AND issue_id = (SELECT id FROM issues WHERE identifier = ?)`, update.Label, update.Target)
	default:
		return core.UpdateResult{}, core.NewDomainError(core.CategoryValidation, "unknown_update_type", fmt.Sprintf("unknown update type %q", update.Type), nil)
	}
	if execErr != nil {
		return core.UpdateResult{Success: false, Error: execErr}, nil
	}
	return core.UpdateResult{Success: true}, nil
}

func (c *Client) createSubTask(ctx context.Context, update core.PendingUpdate) error {
	var parentID string
	if err := c.db.QueryRowContext(ctx, `SELECT id FROM issues WHERE identifier = ?`, update.Target).Scan(&parentID); err != nil {
		return err
	}
	newID := nextIdentifier(ctx, c.db)
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO issues (id, identifier, parent_id, title, status) VALUES (?, ?, ?, ?, 'pending')`,
		newID, newID, parentID, update.Title); err != nil {
		return err
	}
	for _, blockerIdentifier := range update.BlockedBy {
		var blockerID string
		if err := c.db.QueryRowContext(ctx, `SELECT id FROM issues WHERE identifier = ?`, blockerIdentifier).Scan(&blockerID); err != nil {
			continue
		}
		if _, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO blockers (issue_id, blocker_id) VALUES (?, ?)`, newID, blockerID); err != nil {
			return err
		}
	}
	return nil
}

// nextIdentifier assigns the next LOC-N identifier by counting existing
// rows; collisions are impossible within a single orchestrator run since
// all writes go through this one *sql.DB.
func nextIdentifier(ctx context.Context, db *sql.DB) string {
	var count int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`).Scan(&count)
	return fmt.Sprintf("LOC-%d", count+1)
}

// Seed inserts a parent issue and its sub-tasks in one call, for tests and
// for bootstrapping a local run from a static task list rather than an
// existing database.
func Seed(ctx context.Context, c *Client, parentID, parentIdentifier, parentTitle string, subTasks []core.SubTaskPayload) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO issues (id, identifier, title, status) VALUES (?, ?, ?, 'parent')`,
		parentID, parentIdentifier, parentTitle); err != nil {
		return err
	}
	for _, st := range subTasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO issues (id, identifier, parent_id, title, status, branch_name) VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID, st.Identifier, parentID, st.Title, st.Status, st.BranchName); err != nil {
			return err
		}
		for _, b := range st.BlockedBy {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO blockers (issue_id, blocker_id) VALUES (?, ?)`, st.ID, b.ID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
