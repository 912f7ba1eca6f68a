// Package escalate derives follow-up issues from inspection findings.
// Candidate computation is pure: given the same checks it yields the same
// candidates, titles, and dedup keys, so dispatching them is safe to retry.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fieldline/internal/domain"
	"fieldline/internal/draft"
	"fieldline/internal/repo"
)

const (
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// Candidate is a computed, not persisted, escalation. SourceRef doubles as
// the dedup key so a retried submission converges on one issue per finding.
type Candidate struct {
	SourceRef   string  `json:"source_ref"`
	Severity    string  `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

// Directory looks up active team members by role for default assignment.
type Directory interface {
	ActiveByRole(ctx context.Context, projectID, role string) (domain.TeamMember, error)
}

type Engine struct {
	Directory    Directory
	Severity     map[string]string
	AssigneeRole string
}

func severityFor(m map[string]string, status string) string {
	if sev, ok := m[status]; ok {
		return sev
	}
	if status == draft.CheckDefectFound {
		return SeveritySevere
	}
	return SeverityModerate
}

func titleFor(status, asset string) string {
	if status == draft.CheckDefectFound {
		return fmt.Sprintf("Defect found: %s", asset)
	}
	return fmt.Sprintf("Needs attention: %s", asset)
}

// FromChecks derives one candidate per asset whose check found something.
// reportRef is the human-readable identifier included in descriptions.
func (e Engine) FromChecks(ctx context.Context, projectID, reportID, reportRef string, checks []draft.AssetCheck) ([]Candidate, error) {
	assignee, err := e.defaultAssignee(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, c := range checks {
		if c.Status == draft.CheckOK || c.Status == draft.CheckUnset || c.Status == "" {
			continue
		}
		out = append(out, Candidate{
			SourceRef:   reportID + "|" + c.AssetID,
			Severity:    severityFor(e.Severity, c.Status),
			Title:       titleFor(c.Status, c.Name),
			Description: checkDescription(reportRef, c),
			AssigneeID:  assignee,
		})
	}
	return out, nil
}

// FromIncident derives the fast-path candidate for an incident carrying at
// least one photo. Returns nil when the incident does not qualify.
func (e Engine) FromIncident(ctx context.Context, projectID, reportID string, inc draft.IncidentEntry) (*Candidate, error) {
	if len(inc.Photos) == 0 {
		return nil, nil
	}
	assignee, err := e.defaultAssignee(ctx, projectID)
	if err != nil {
		return nil, err
	}
	desc := inc.Description
	if inc.Time != "" {
		desc = fmt.Sprintf("%s at %s: %s", inc.Type, inc.Time, inc.Description)
	}
	return &Candidate{
		SourceRef:   reportID + "|incident|" + inc.ID,
		Severity:    SeveritySevere,
		Title:       fmt.Sprintf("Incident reported: %s", inc.Type),
		Description: desc,
		AssigneeID:  assignee,
	}, nil
}

func (e Engine) defaultAssignee(ctx context.Context, projectID string) (*string, error) {
	if e.Directory == nil || e.AssigneeRole == "" {
		return nil, nil
	}
	m, err := e.Directory.ActiveByRole(ctx, projectID, e.AssigneeRole)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// No active member holding the role: leave unassigned.
			return nil, nil
		}
		return nil, fmt.Errorf("resolve assignee: %w", err)
	}
	return &m.ID, nil
}

// checkDescription concatenates the pieces of context that are present, in
// a fixed order, without placeholders for the absent ones.
func checkDescription(reportRef string, c draft.AssetCheck) string {
	var parts []string
	if reportRef != "" {
		parts = append(parts, "Inspection "+reportRef)
	}
	if c.Location != "" {
		parts = append(parts, "Location: "+c.Location)
	}
	if c.Notes != "" {
		parts = append(parts, c.Notes)
	}
	if c.Defect != "" {
		parts = append(parts, "Defect: "+c.Defect)
	}
	return strings.Join(parts, "\n")
}
