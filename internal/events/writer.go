package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates the pipeline events worth auditing.
type Type string

const (
	DraftRestored     Type = "draft.restored"
	DraftDiscarded    Type = "draft.discarded"
	CheckRecorded     Type = "check.recorded"
	ReportSubmitted   Type = "report.submitted"
	SubmissionQueued  Type = "submission.queued"
	SubmissionReplay  Type = "submission.replayed"
	IssueCreated      Type = "issue.created"
	ReportReviewed    Type = "report.reviewed"
	IncidentEscalated Type = "incident.escalated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside the caller's transaction so the event
// commits or rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType Type, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, string(evtType), nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
