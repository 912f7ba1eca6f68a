package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fieldline/internal/draft"
)

// SaveDraft snapshots the whole draft as JSON keyed by (project, period).
func (r Repo) SaveDraft(ctx context.Context, d *draft.Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO drafts(draft_key,project_id,period_key,payload_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(draft_key) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		d.Key(), d.ProjectID, d.PeriodKey, string(payload), now)
	return err
}

// LoadDraft restores an interrupted session's draft, or ErrNotFound.
func (r Repo) LoadDraft(ctx context.Context, projectID, periodKey string) (*draft.Draft, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM drafts WHERE draft_key=?`, draft.Key(projectID, periodKey)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d draft.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft %s: %w", draft.Key(projectID, periodKey), err)
	}
	return &d, nil
}

// ClearDraft removes the snapshot after a confirmed submission or discard.
func (r Repo) ClearDraft(ctx context.Context, projectID, periodKey string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM drafts WHERE draft_key=?`, draft.Key(projectID, periodKey))
	return err
}

type DraftInfo struct {
	ProjectID string `json:"project_id"`
	PeriodKey string `json:"period_key"`
	UpdatedAt string `json:"updated_at"`
}

func (r Repo) ListDrafts(ctx context.Context, projectID string) ([]DraftInfo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,period_key,updated_at FROM drafts WHERE project_id=? ORDER BY period_key DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DraftInfo
	for rows.Next() {
		var d DraftInfo
		if err := rows.Scan(&d.ProjectID, &d.PeriodKey, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}
