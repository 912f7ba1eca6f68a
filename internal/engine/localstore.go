package engine

import (
	"context"

	"fieldline/internal/domain"
	"fieldline/internal/repo"
	"fieldline/internal/submit"
)

// LocalStore persists submissions straight into the workspace database.
// It is the store for single-machine deployments, where the backend and
// the field device share one SQLite file and offline never happens.
type LocalStore struct {
	Repo repo.Repo
}

var _ submit.RecordStore = LocalStore{}

func (s LocalStore) CreateParent(ctx context.Context, rep domain.Report) error {
	return s.Repo.UpsertReport(ctx, rep)
}

func (s LocalStore) UpdateParent(ctx context.Context, id string, fin submit.Finalize) error {
	return s.Repo.FinalizeReport(ctx, id, fin.Status, fin.BodyJSON, fin.SubmittedBy, fin.SubmittedAt)
}

func (s LocalStore) UpsertChild(ctx context.Context, check domain.ReportCheck) error {
	return s.Repo.UpsertCheck(ctx, check)
}

func (s LocalStore) BulkInsert(ctx context.Context, issues []domain.Issue) error {
	return s.Repo.BulkInsertIssues(ctx, issues)
}
