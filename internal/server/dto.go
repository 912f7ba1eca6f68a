package server

import (
	"fieldline/internal/domain"
)

// Request payloads

type CreateReportRequest struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	PeriodKey string `json:"period_key"`
	Flow      string `json:"flow" enum:"daily,inspection"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type FinalizeReportRequest struct {
	Status      string `json:"status" enum:"submitted,pending_review"`
	BodyJSON    string `json:"body_json"`
	SubmittedBy string `json:"submitted_by"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
}

type ReviewReportRequest struct {
	Status string `json:"status" enum:"accepted,returned"`
	Note   string `json:"note,omitempty"`
}

type UpsertCheckRequest struct {
	AssetName  string  `json:"asset_name"`
	Location   string  `json:"location,omitempty"`
	Status     string  `json:"status" enum:"ok,needs_attention,defect_found"`
	Notes      string  `json:"notes,omitempty"`
	Defect     string  `json:"defect,omitempty"`
	PhotosJSON *string `json:"photos_json,omitempty"`
	RecordedBy string  `json:"recorded_by"`
	RecordedAt string  `json:"recorded_at,omitempty" format:"date-time"`
}

type BulkIssuesRequest struct {
	Issues []domain.Issue `json:"issues"`
}

type AddTeamMemberRequest struct {
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

// Responses

type ReportResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	PeriodKey   string  `json:"period_key"`
	Flow        string  `json:"flow"`
	Status      string  `json:"status"`
	BodyJSON    *string `json:"body_json,omitempty"`
	SubmittedBy *string `json:"submitted_by,omitempty"`
	SubmittedAt *string `json:"submitted_at,omitempty"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewedAt  *string `json:"reviewed_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		PeriodKey:   r.PeriodKey,
		Flow:        r.Flow,
		Status:      r.Status,
		BodyJSON:    r.BodyJSON,
		SubmittedBy: r.SubmittedBy,
		SubmittedAt: r.SubmittedAt,
		ReviewedBy:  r.ReviewedBy,
		ReviewedAt:  r.ReviewedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapReports(items []domain.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(items))
	for _, r := range items {
		out = append(out, reportResponse(r))
	}
	return out
}

type BulkIssuesResponse struct {
	Inserted int `json:"inserted"`
}

type StatusResponse struct {
	ProjectID    string         `json:"project_id"`
	ReportCounts map[string]int `json:"report_counts"`
	OpenIssues   int            `json:"open_issues"`
}
