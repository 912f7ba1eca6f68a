package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/domain"
)

func (r Repo) AddTeamMember(ctx context.Context, m domain.TeamMember) (domain.TeamMember, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO team_members(id,project_id,name,role,active,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Name, m.Role, boolInt(m.Active), m.CreatedAt)
	return m, err
}

func (r Repo) SetTeamMemberActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE team_members SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeamMembers(ctx context.Context, projectID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,role,active,created_at FROM team_members WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		var active int
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Role, &active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Active = active != 0
		res = append(res, m)
	}
	return res, nil
}

// ActiveByRole resolves the default assignee for escalations: the earliest
// registered active member holding the role. ErrNotFound when none match.
func (r Repo) ActiveByRole(ctx context.Context, projectID, role string) (domain.TeamMember, error) {
	var m domain.TeamMember
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,role,active,created_at FROM team_members
WHERE project_id=? AND role=? AND active=1 ORDER BY created_at ASC, id ASC LIMIT 1`, projectID, role).
		Scan(&m.ID, &m.ProjectID, &m.Name, &m.Role, &active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.Active = active != 0
	return m, err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
