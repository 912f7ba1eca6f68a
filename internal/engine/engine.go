package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/draft"
	"fieldline/internal/escalate"
	"fieldline/internal/events"
	"fieldline/internal/payload"
	"fieldline/internal/repo"
	"fieldline/internal/submit"
	"fieldline/internal/wizard"
)

// Engine wires the draft pipeline together: local repo for drafts, queue
// and audit events, a RecordStore for the remote save sequence.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Store  submit.RecordStore
	Now    func() time.Time

	replayMu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, store submit.RecordStore) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Store:    store,
		Now:      time.Now,
		replayMu: &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) narrativeMin() int {
	if e.Config != nil && e.Config.Report.NarrativeMinChars > 0 {
		return e.Config.Report.NarrativeMinChars
	}
	return draft.DefaultNarrativeMin
}

// ReportID derives the parent record id from the draft identity, so a
// retried submission targets the same parent row.
func ReportID(projectID, periodKey string, flow draft.Flow) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"|"+periodKey+"|"+string(flow))).String()
}

// OpenDraft restores an interrupted draft or lazily creates an empty one.
// The second return reports whether a persisted draft was restored.
func (e Engine) OpenDraft(ctx context.Context, periodKey string, flow draft.Flow, actorID string) (*draft.Draft, bool, error) {
	projectID := e.Config.Project.ID
	d, err := e.Repo.LoadDraft(ctx, projectID, periodKey)
	if err == nil {
		if d.Flow != flow {
			return nil, false, fmt.Errorf("draft for %s is a %s report, not %s", periodKey, d.Flow, flow)
		}
		tx, txErr := e.DB.BeginTx(ctx, nil)
		if txErr != nil {
			return nil, false, txErr
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, events.DraftRestored, projectID, "draft", d.Key(), actorID, events.EventPayload{"period_key": periodKey}); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return d, true, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}
	return draft.New(projectID, periodKey, flow), false, nil
}

// SaveDraft snapshots the draft immediately.
func (e Engine) SaveDraft(ctx context.Context, d *draft.Draft) error {
	return e.Repo.SaveDraft(ctx, d)
}

// DiscardDraft removes the snapshot without submitting.
func (e Engine) DiscardDraft(ctx context.Context, d *draft.Draft, actorID string) error {
	if err := e.Repo.ClearDraft(ctx, d.ProjectID, d.PeriodKey); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.DraftDiscarded, d.ProjectID, "draft", d.Key(), actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Escalator builds the escalation rule engine from config and directory.
func (e Engine) Escalator() escalate.Engine {
	eng := escalate.Engine{Directory: e.Repo}
	if e.Config != nil {
		eng.Severity = e.Config.Escalation.Severity
		eng.AssigneeRole = e.Config.Escalation.AssigneeRole
	}
	return eng
}

func (e Engine) coordinator() submit.Coordinator {
	return submit.Coordinator{Store: e.Store, Queue: queueAdapter{e.Repo}, Now: e.Now}
}

type queueAdapter struct{ r repo.Repo }

func (q queueAdapter) Enqueue(ctx context.Context, qs domain.QueuedSubmission) error {
	return q.r.EnqueueSubmission(ctx, qs)
}

// RecordCheck saves one asset check into the draft and upserts it remotely
// right away, so leaving an item's detail view persists independent of the
// final submission. An offline store is not an error here: the check stays
// in the draft and ships with the submission batch.
func (e Engine) RecordCheck(ctx context.Context, d *draft.Draft, c draft.AssetCheck, actorID string) error {
	if err := d.UpsertCheck(c); err != nil {
		return err
	}
	if err := e.Repo.SaveDraft(ctx, d); err != nil {
		return err
	}
	reportID := ReportID(d.ProjectID, d.PeriodKey, d.Flow)
	now := e.now().UTC().Format(time.RFC3339)
	parent := e.draftParent(d, reportID, now)
	if err := e.Store.CreateParent(ctx, parent); err != nil {
		if !errors.Is(err, submit.ErrOffline) {
			return err
		}
	} else if err := e.Store.UpsertChild(ctx, checkRecord(reportID, c, actorID, now)); err != nil {
		if !errors.Is(err, submit.ErrOffline) {
			return err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.CheckRecorded, d.ProjectID, "check", c.AssetID, actorID, events.EventPayload{"status": c.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) draftParent(d *draft.Draft, reportID, now string) domain.Report {
	return domain.Report{
		ID:        reportID,
		ProjectID: d.ProjectID,
		PeriodKey: d.PeriodKey,
		Flow:      string(d.Flow),
		Status:    "draft",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func checkRecord(reportID string, c draft.AssetCheck, actorID, now string) domain.ReportCheck {
	rec := domain.ReportCheck{
		ReportID:   reportID,
		AssetID:    c.AssetID,
		AssetName:  c.Name,
		Location:   c.Location,
		Status:     c.Status,
		Notes:      c.Notes,
		Defect:     c.Defect,
		RecordedBy: actorID,
		RecordedAt: now,
	}
	if len(c.Photos) > 0 {
		b, _ := json.Marshal(c.Photos)
		s := string(b)
		rec.PhotosJSON = &s
	}
	return rec
}

// ErrGated is returned when the submit action is disabled; Unmet lists the
// gates so the UI can show which one.
type ErrGated struct {
	Unmet []string
}

func (e ErrGated) Error() string {
	return "submission gated: " + fmt.Sprint(e.Unmet)
}

// Submit assembles the intent (normalized report + escalation candidates)
// and runs the coordinator. Success disposes of the draft; queued keeps it
// until replay confirms; error keeps it untouched for retry.
func (e Engine) Submit(ctx context.Context, d *draft.Draft, actorID string) (submit.Outcome, error) {
	if unmet := wizard.SubmitGate(d, e.narrativeMin()); len(unmet) > 0 {
		return submit.Outcome{}, ErrGated{Unmet: unmet}
	}
	reportID := ReportID(d.ProjectID, d.PeriodKey, d.Flow)
	now := e.now().UTC().Format(time.RFC3339)

	candidates, err := e.Escalator().FromChecks(ctx, d.ProjectID, reportID, d.PeriodKey, d.Checks)
	if err != nil {
		return submit.Outcome{}, err
	}
	parent := e.draftParent(d, reportID, now)
	intent := submit.Intent{
		ReportID:    reportID,
		ProjectID:   d.ProjectID,
		PeriodKey:   d.PeriodKey,
		Flow:        string(d.Flow),
		Parent:      &parent,
		Report:      payload.Build(d),
		Checks:      checkRecords(reportID, d.Checks, actorID, now),
		Candidates:  candidates,
		Finalize:    true,
		SubmittedBy: actorID,
		SubmittedAt: now,
	}
	outcome := e.coordinator().Submit(ctx, intent)
	if err := e.settle(ctx, d, intent, outcome, actorID); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func checkRecords(reportID string, checks []draft.AssetCheck, actorID, now string) []domain.ReportCheck {
	var out []domain.ReportCheck
	for _, c := range checks {
		if c.Status == draft.CheckUnset || c.Status == "" {
			continue
		}
		out = append(out, checkRecord(reportID, c, actorID, now))
	}
	return out
}

// settle applies the local side effects of an outcome: draft disposal and
// audit events. The draft is disposed only on full success.
func (e Engine) settle(ctx context.Context, d *draft.Draft, intent submit.Intent, outcome submit.Outcome, actorID string) error {
	switch outcome.Status {
	case submit.OutcomeSuccess:
		if err := e.Repo.ClearDraft(ctx, d.ProjectID, d.PeriodKey); err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if intent.Finalize {
			if err := e.Events.Append(ctx, tx, events.ReportSubmitted, d.ProjectID, "report", intent.ReportID, actorID, events.EventPayload{
				"period_key": d.PeriodKey,
				"flow":       intent.Flow,
			}); err != nil {
				return err
			}
		}
		for _, cand := range intent.Candidates {
			if err := e.Events.Append(ctx, tx, events.IssueCreated, d.ProjectID, "issue", cand.SourceRef, actorID, events.EventPayload{
				"severity": cand.Severity,
				"title":    cand.Title,
			}); err != nil {
				return err
			}
		}
		return tx.Commit()
	case submit.OutcomeQueued:
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, events.SubmissionQueued, d.ProjectID, "report", intent.ReportID, actorID, events.EventPayload{
			"period_key": d.PeriodKey,
		}); err != nil {
			return err
		}
		return tx.Commit()
	default:
		return nil
	}
}

// SubmitIncidentFastPath records a single incident and, when it carries
// photos, immediately dispatches one escalation without batching it into
// the main submission.
func (e Engine) SubmitIncidentFastPath(ctx context.Context, d *draft.Draft, inc draft.IncidentEntry, actorID string) (submit.Outcome, error) {
	if inc.ID == "" {
		inc.ID = draft.NewEntryID()
	}
	if err := d.UpsertEntry(inc); err != nil {
		return submit.Outcome{}, err
	}
	if err := e.Repo.SaveDraft(ctx, d); err != nil {
		return submit.Outcome{}, err
	}
	reportID := ReportID(d.ProjectID, d.PeriodKey, d.Flow)
	cand, err := e.Escalator().FromIncident(ctx, d.ProjectID, reportID, inc)
	if err != nil {
		return submit.Outcome{}, err
	}
	if cand == nil {
		return submit.Outcome{Status: submit.OutcomeSuccess, State: submit.StateDone}, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	parent := e.draftParent(d, reportID, now)
	intent := submit.Intent{
		ReportID:    reportID,
		ProjectID:   d.ProjectID,
		PeriodKey:   d.PeriodKey,
		Flow:        string(d.Flow),
		Parent:      &parent,
		Candidates:  []escalate.Candidate{*cand},
		SubmittedBy: actorID,
		SubmittedAt: now,
	}
	outcome := e.coordinator().Submit(ctx, intent)
	tx, txErr := e.DB.BeginTx(ctx, nil)
	if txErr != nil {
		return outcome, txErr
	}
	defer tx.Rollback()
	evt := events.IncidentEscalated
	if outcome.Status == submit.OutcomeQueued {
		evt = events.SubmissionQueued
	}
	if err := e.Events.Append(ctx, tx, evt, d.ProjectID, "incident", inc.ID, actorID, events.EventPayload{"type": inc.Type}); err != nil {
		return outcome, err
	}
	return outcome, tx.Commit()
}

// ReplayQueue resubmits queued intents oldest-first, one at a time; a
// single replay runs at once per engine so the same intent is never
// submitted twice concurrently. It stops at the first intent that still
// cannot reach the store.
func (e Engine) ReplayQueue(ctx context.Context, actorID string) (int, error) {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()

	replayed := 0
	for {
		q, err := e.Repo.OldestQueued(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return replayed, nil
		}
		if err != nil {
			return replayed, err
		}
		var intent submit.Intent
		if err := json.Unmarshal([]byte(q.IntentJSON), &intent); err != nil {
			return replayed, fmt.Errorf("decode queued intent %s: %w", q.ID, err)
		}
		outcome := e.coordinator().Submit(ctx, intent)
		switch outcome.Status {
		case submit.OutcomeSuccess:
			if err := e.Repo.DeleteQueued(ctx, q.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return replayed, err
			}
			if intent.Finalize {
				if err := e.Repo.ClearDraft(ctx, q.ProjectID, q.PeriodKey); err != nil {
					return replayed, err
				}
			}
			tx, txErr := e.DB.BeginTx(ctx, nil)
			if txErr != nil {
				return replayed, txErr
			}
			if err := e.Events.Append(ctx, tx, events.SubmissionReplay, q.ProjectID, "report", intent.ReportID, actorID, events.EventPayload{
				"queued_at": q.QueuedAt,
				"attempts":  q.Attempts,
			}); err != nil {
				tx.Rollback()
				return replayed, err
			}
			if err := tx.Commit(); err != nil {
				return replayed, err
			}
			replayed++
		case submit.OutcomeQueued:
			// Still offline; the intent re-queued itself. Try again later.
			if err := e.Repo.MarkQueuedAttempt(ctx, q.ID, "offline"); err != nil {
				return replayed, err
			}
			return replayed, nil
		default:
			if err := e.Repo.MarkQueuedAttempt(ctx, q.ID, outcome.Message); err != nil {
				return replayed, err
			}
			return replayed, outcome.Err
		}
	}
}

// Warnings surfaces the advisory review notices for a draft.
func (e Engine) Warnings(d *draft.Draft) []string {
	hour := 0
	if e.Config != nil {
		hour = e.Config.Warnings.LateVisitorHour
	}
	return wizard.Warnings(d, hour)
}

// SectionStatuses computes the per-section completion map used by progress
// display.
func (e Engine) SectionStatuses(d *draft.Draft) map[draft.Section]draft.Status {
	out := make(map[draft.Section]draft.Status, len(draft.AllSections))
	for _, s := range draft.AllSections {
		st, _ := draft.Evaluate(d, s, e.narrativeMin())
		out[s] = st
	}
	return out
}
