// Package submit executes the network-dependent save sequence for one
// submission intent and degrades to the offline queue when the store is
// unreachable. The caller sees exactly three outcomes: success, queued, or
// a retryable error with the draft left intact.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/domain"
	"fieldline/internal/escalate"
	"fieldline/internal/payload"
)

// ErrOffline classifies a store failure as the device being offline.
// Implementations wrap transport-level failures with it.
var ErrOffline = errors.New("network unavailable")

// RecordStore is the remote persistence collaborator. Every method may fail
// with an error wrapping ErrOffline.
type RecordStore interface {
	CreateParent(ctx context.Context, rep domain.Report) error
	UpdateParent(ctx context.Context, id string, fin Finalize) error
	UpsertChild(ctx context.Context, check domain.ReportCheck) error
	BulkInsert(ctx context.Context, issues []domain.Issue) error
}

// Finalize carries the parent's submission-time fields.
type Finalize struct {
	Status      string `json:"status"`
	BodyJSON    string `json:"body_json"`
	SubmittedBy string `json:"submitted_by"`
	SubmittedAt string `json:"submitted_at"`
}

// Queue accepts intents for deferred replay.
type Queue interface {
	Enqueue(ctx context.Context, q domain.QueuedSubmission) error
}

// Intent is the full serialized submission: everything needed to replay the
// save sequence later without the draft.
type Intent struct {
	ReportID    string                   `json:"report_id"`
	ProjectID   string                   `json:"project_id"`
	PeriodKey   string                   `json:"period_key"`
	Flow        string                   `json:"flow"`
	Parent      *domain.Report           `json:"parent,omitempty"`
	Report      payload.NormalizedReport `json:"report"`
	Checks      []domain.ReportCheck     `json:"checks,omitempty"`
	Candidates  []escalate.Candidate     `json:"candidates,omitempty"`
	Finalize    bool                     `json:"finalize"`
	SubmittedBy string                   `json:"submitted_by"`
	SubmittedAt string                   `json:"submitted_at" format:"date-time"`
}

type State string

const (
	StateIdle           State = "idle"
	StateSavingChildren State = "saving_children"
	StateEscalating     State = "creating_escalations"
	StateFinalizing     State = "finalizing"
	StateDone           State = "done"
	StateOfflineQueued  State = "offline_queued"
)

const (
	OutcomeSuccess = "success"
	OutcomeQueued  = "queued"
	OutcomeError   = "error"
)

// Outcome is the user-facing result of a submission attempt.
type Outcome struct {
	Status  string `json:"status" enum:"success,queued,error"`
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

type Coordinator struct {
	Store RecordStore
	Queue Queue
	Now   func() time.Time
}

// Submit runs the save sequence: child upserts (one awaited concurrent
// batch), escalation bulk insert, then parent finalize. Step order is
// strict so escalations always reference persisted children. Any offline
// failure queues the whole intent; anything else is a retryable error and
// the caller keeps the draft.
func (c Coordinator) Submit(ctx context.Context, intent Intent) Outcome {
	state := StateSavingChildren
	var err error
	if intent.Parent != nil {
		// Parent create is idempotent server-side; safe on every attempt.
		err = c.Store.CreateParent(ctx, *intent.Parent)
	}
	if err == nil {
		err = c.saveChildren(ctx, intent.Checks)
	}
	if err == nil && len(intent.Candidates) > 0 {
		state = StateEscalating
		err = c.Store.BulkInsert(ctx, Issues(intent))
	}
	if err == nil && intent.Finalize {
		state = StateFinalizing
		body, merr := payload.Marshal(intent.Report)
		if merr != nil {
			return Outcome{Status: OutcomeError, State: state, Message: merr.Error(), Err: merr}
		}
		status := "submitted"
		if intent.Flow == "inspection" {
			// Field submission is not supervisor acceptance.
			status = "pending_review"
		}
		err = c.Store.UpdateParent(ctx, intent.ReportID, Finalize{
			Status:      status,
			BodyJSON:    body,
			SubmittedBy: intent.SubmittedBy,
			SubmittedAt: intent.SubmittedAt,
		})
	}
	if err == nil {
		return Outcome{Status: OutcomeSuccess, State: StateDone}
	}
	if errors.Is(err, ErrOffline) {
		if qerr := c.enqueue(ctx, intent); qerr != nil {
			return Outcome{Status: OutcomeError, State: state, Message: qerr.Error(), Err: qerr}
		}
		return Outcome{
			Status:  OutcomeQueued,
			State:   StateOfflineQueued,
			Message: "saved locally, will sync when back online",
		}
	}
	return Outcome{Status: OutcomeError, State: state, Message: err.Error(), Err: err}
}

// saveChildren issues the independent child upserts concurrently and waits
// for the whole batch; the first failure wins and fails the batch.
func (c Coordinator) saveChildren(ctx context.Context, checks []domain.ReportCheck) error {
	if len(checks) == 0 {
		return nil
	}
	errc := make(chan error, len(checks))
	for _, check := range checks {
		go func(ch domain.ReportCheck) {
			errc <- c.Store.UpsertChild(ctx, ch)
		}(check)
	}
	var first error
	for range checks {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return fmt.Errorf("save children: %w", first)
	}
	return nil
}

// queueID derives a stable id from the intent's identity, not the draft's.
// A full submission and an incident fast-path for the same period are
// distinct intents and must queue side by side; re-queuing the same intent
// converges on the same row.
func (intent Intent) queueID() string {
	seed := "queue|" + intent.ReportID + "|submit"
	if !intent.Finalize && len(intent.Candidates) > 0 {
		seed = "queue|" + intent.Candidates[0].SourceRef
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func (c Coordinator) enqueue(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	now := c.now().UTC().Format(time.RFC3339)
	return c.Queue.Enqueue(ctx, domain.QueuedSubmission{
		ID:         intent.queueID(),
		ProjectID:  intent.ProjectID,
		PeriodKey:  intent.PeriodKey,
		IntentJSON: string(data),
		QueuedAt:   now,
	})
}

func (c Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Issues materializes the intent's candidates as issue rows. IDs derive
// from the dedup key, never from a fresh uuid, so a replayed intent writes
// the same rows.
func Issues(intent Intent) []domain.Issue {
	out := make([]domain.Issue, 0, len(intent.Candidates))
	for _, cand := range intent.Candidates {
		out = append(out, domain.Issue{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("issue|"+cand.SourceRef)).String(),
			ProjectID:   intent.ProjectID,
			ReportID:    intent.ReportID,
			SourceRef:   cand.SourceRef,
			Severity:    cand.Severity,
			Title:       cand.Title,
			Description: cand.Description,
			AssigneeID:  cand.AssigneeID,
			Status:      "open",
			CreatedAt:   intent.SubmittedAt,
		})
	}
	return out
}
