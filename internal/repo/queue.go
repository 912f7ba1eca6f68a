package repo

import (
	"context"
	"database/sql"

	"fieldline/internal/domain"
)

// EnqueueSubmission stores one pending submission intent. The id is the
// intent's identity: re-queuing the same intent refreshes the payload in
// place, keeping attempts and queued_at so replay ordering and the attempt
// counter survive. Rows with other ids are never touched.
func (r Repo) EnqueueSubmission(ctx context.Context, q domain.QueuedSubmission) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO queue(id,project_id,period_key,intent_json,attempts,last_error,queued_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET intent_json=excluded.intent_json`,
		q.ID, q.ProjectID, q.PeriodKey, q.IntentJSON, q.Attempts, nullable(q.LastError), q.QueuedAt)
	return err
}

// OldestQueued returns the replay candidate, oldest first.
func (r Repo) OldestQueued(ctx context.Context) (domain.QueuedSubmission, error) {
	return scanQueued(r.DB.QueryRowContext(ctx, `SELECT id,project_id,period_key,intent_json,attempts,last_error,queued_at FROM queue ORDER BY queued_at ASC, id ASC LIMIT 1`))
}

func scanQueued(row *sql.Row) (domain.QueuedSubmission, error) {
	var q domain.QueuedSubmission
	var lastErr sql.NullString
	err := row.Scan(&q.ID, &q.ProjectID, &q.PeriodKey, &q.IntentJSON, &q.Attempts, &lastErr, &q.QueuedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	q.LastError = lastErr.String
	return q, err
}

func (r Repo) ListQueued(ctx context.Context) ([]domain.QueuedSubmission, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,period_key,intent_json,attempts,last_error,queued_at FROM queue ORDER BY queued_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueuedSubmission
	for rows.Next() {
		var q domain.QueuedSubmission
		var lastErr sql.NullString
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.PeriodKey, &q.IntentJSON, &q.Attempts, &lastErr, &q.QueuedAt); err != nil {
			return nil, err
		}
		q.LastError = lastErr.String
		res = append(res, q)
	}
	return res, nil
}

// DeleteQueued removes an intent once replay confirms the remote save.
func (r Repo) DeleteQueued(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM queue WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkQueuedAttempt bumps the attempt counter after a failed replay.
func (r Repo) MarkQueuedAttempt(ctx context.Context, id, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE queue SET attempts=attempts+1, last_error=? WHERE id=?`, nullable(lastError), id)
	return err
}
