package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fieldline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reportColumns = `id,project_id,period_key,flow,status,body_json,submitted_by,submitted_at,reviewed_by,reviewed_at,created_at,updated_at`

// UpsertReport inserts the parent record if absent; an existing row is left
// untouched so a retried submission never resets a finalized report.
func (r Repo) UpsertReport(ctx context.Context, rep domain.Report) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		rep.ID, rep.ProjectID, rep.PeriodKey, rep.Flow, rep.Status,
		nullableStringPtr(rep.BodyJSON), nullableStringPtr(rep.SubmittedBy), nullableStringPtr(rep.SubmittedAt),
		nullableStringPtr(rep.ReviewedBy), nullableStringPtr(rep.ReviewedAt), rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

func scanReport(row *sql.Row) (domain.Report, error) {
	var rep domain.Report
	var body, subBy, subAt, revBy, revAt sql.NullString
	err := row.Scan(&rep.ID, &rep.ProjectID, &rep.PeriodKey, &rep.Flow, &rep.Status,
		&body, &subBy, &subAt, &revBy, &revAt, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.BodyJSON = optional(body)
	rep.SubmittedBy = optional(subBy)
	rep.SubmittedAt = optional(subAt)
	rep.ReviewedBy = optional(revBy)
	rep.ReviewedAt = optional(revAt)
	return rep, nil
}

type ReportFilters struct {
	ProjectID string
	Status    string
	Flow      string
	Limit     int
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Flow != "" {
		clauses = append(clauses, "flow=?")
		args = append(args, f.Flow)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reportColumns + ` FROM reports ` + where + ` ORDER BY period_key DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var body, subBy, subAt, revBy, revAt sql.NullString
		if err := rows.Scan(&rep.ID, &rep.ProjectID, &rep.PeriodKey, &rep.Flow, &rep.Status,
			&body, &subBy, &subAt, &revBy, &revAt, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
			return nil, err
		}
		rep.BodyJSON = optional(body)
		rep.SubmittedBy = optional(subBy)
		rep.SubmittedAt = optional(subAt)
		rep.ReviewedBy = optional(revBy)
		rep.ReviewedAt = optional(revAt)
		res = append(res, rep)
	}
	return res, nil
}

// FinalizeReport writes the normalized body and submission stamps and moves
// the report out of draft in one statement.
func (r Repo) FinalizeReport(ctx context.Context, id, status, bodyJSON, submittedBy, submittedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE reports SET status=?, body_json=?, submitted_by=?, submitted_at=?, updated_at=? WHERE id=?`,
		status, bodyJSON, submittedBy, submittedAt, submittedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReviewReport records supervisor acceptance or return of a submitted report.
func (r Repo) ReviewReport(ctx context.Context, tx *sql.Tx, id, status, reviewedBy, reviewedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, reviewed_by=?, reviewed_at=?, updated_at=? WHERE id=? AND status='pending_review'`,
		status, reviewedBy, reviewedAt, reviewedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s is not pending review", id)
	}
	return nil
}

func (r Repo) UpsertCheck(ctx context.Context, c domain.ReportCheck) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO report_checks(report_id,asset_id,asset_name,location,status,notes,defect,photos_json,recorded_by,recorded_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(report_id,asset_id) DO UPDATE SET
  asset_name=excluded.asset_name, location=excluded.location, status=excluded.status,
  notes=excluded.notes, defect=excluded.defect, photos_json=excluded.photos_json,
  recorded_by=excluded.recorded_by, recorded_at=excluded.recorded_at`,
		c.ReportID, c.AssetID, c.AssetName, nullable(c.Location), c.Status,
		nullable(c.Notes), nullable(c.Defect), nullableStringPtr(c.PhotosJSON), c.RecordedBy, c.RecordedAt)
	return err
}

func (r Repo) ListChecks(ctx context.Context, reportID string) ([]domain.ReportCheck, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT report_id,asset_id,asset_name,location,status,notes,defect,photos_json,recorded_by,recorded_at
FROM report_checks WHERE report_id=? ORDER BY asset_id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportCheck
	for rows.Next() {
		var c domain.ReportCheck
		var location, notes, defect, photos sql.NullString
		if err := rows.Scan(&c.ReportID, &c.AssetID, &c.AssetName, &location, &c.Status, &notes, &defect, &photos, &c.RecordedBy, &c.RecordedAt); err != nil {
			return nil, err
		}
		c.Location = location.String
		c.Notes = notes.String
		c.Defect = defect.String
		c.PhotosJSON = optional(photos)
		res = append(res, c)
	}
	return res, nil
}

// BulkInsertIssues writes all issues in one transaction. Conflicts on
// source_ref update in place, so a retried submission converges instead of
// duplicating.
func (r Repo) BulkInsertIssues(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, is := range issues {
		if _, err := tx.ExecContext(ctx, `INSERT INTO issues(id,project_id,report_id,source_ref,severity,title,description,assignee_id,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(source_ref) DO UPDATE SET
  severity=excluded.severity, title=excluded.title, description=excluded.description, assignee_id=excluded.assignee_id`,
			is.ID, is.ProjectID, is.ReportID, is.SourceRef, is.Severity, is.Title,
			nullable(is.Description), nullableStringPtr(is.AssigneeID), is.Status, is.CreatedAt); err != nil {
			return fmt.Errorf("insert issue %s: %w", is.SourceRef, err)
		}
	}
	return tx.Commit()
}

type IssueFilters struct {
	ProjectID string
	ReportID  string
	Severity  string
	Status    string
	Limit     int
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.ReportID != "" {
		clauses = append(clauses, "report_id=?")
		args = append(args, f.ReportID)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,report_id,source_ref,severity,title,description,assignee_id,status,created_at FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var is domain.Issue
		var desc, assignee sql.NullString
		if err := rows.Scan(&is.ID, &is.ProjectID, &is.ReportID, &is.SourceRef, &is.Severity, &is.Title, &desc, &assignee, &is.Status, &is.CreatedAt); err != nil {
			return nil, err
		}
		is.Description = desc.String
		is.AssigneeID = optional(assignee)
		res = append(res, is)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projID, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projID, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projID.String
		e.EntityID = entID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func optional(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
