// Package server exposes the backend API consumed by field devices and by
// supervisors reviewing submitted reports.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/events"
	"fieldline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"report rep-1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fieldline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Fieldline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerChecks(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerTeam(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not pending review"):
		return newAPIError(http.StatusConflict, "review_conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Create report record",
		Description:   "Idempotent: an existing record with the same id is left untouched.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if input.Body.ProjectID == "" || input.Body.PeriodKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id and period_key are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		now := time.Now().UTC().Format(time.RFC3339)
		rep := domain.Report{
			ID:        input.Body.ID,
			ProjectID: input.Body.ProjectID,
			PeriodKey: input.Body.PeriodKey,
			Flow:      input.Body.Flow,
			Status:    "draft",
			CreatedAt: input.Body.CreatedAt,
			UpdatedAt: input.Body.UpdatedAt,
		}
		if rep.CreatedAt == "" {
			rep.CreatedAt = now
		}
		if rep.UpdatedAt == "" {
			rep.UpdatedAt = now
		}
		if err := e.Repo.UpsertReport(ctx, rep); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetReport(ctx, rep.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status"`
		Flow      string `query:"flow"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ReportResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListReports(ctx, repo.ReportFilters{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			Flow:      input.Flow,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReportResponse `json:"body"`
		}{Body: mapReports(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-report",
		Method:      http.MethodPatch,
		Path:        "/reports/{report_id}/finalize",
		Summary:     "Finalize report",
		Description: "Marks a draft record submitted with its normalized body.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string                `path:"report_id"`
		Body     FinalizeReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.SubmittedBy == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "submitted_by is required", nil)
		}
		if err := e.Repo.FinalizeReport(ctx, input.ReportID, input.Body.Status, input.Body.BodyJSON, input.Body.SubmittedBy, input.Body.SubmittedAt); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-report",
		Method:      http.MethodPatch,
		Path:        "/reports/{report_id}/review",
		Summary:     "Review report",
		Description: "Supervisor acceptance or return of a pending_review report.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string              `path:"report_id"`
		Body     ReviewReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status != "accepted" && input.Body.Status != "returned" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status must be accepted or returned", nil)
		}
		if authErr := requireRole(ctx, "supervisor"); authErr != nil {
			return nil, authErr
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.ReviewReport(ctx, tx, input.ReportID, input.Body.Status, actorID, now); err != nil {
			return nil, handleError(err)
		}
		if err := e.Events.Append(ctx, tx, events.ReportReviewed, rep.ProjectID, "report", rep.ID, actorID, events.EventPayload{
			"status": input.Body.Status,
			"note":   input.Body.Note,
		}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		rep, err = e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})
}

func registerChecks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-check",
		Method:      http.MethodPut,
		Path:        "/reports/{report_id}/checks/{asset_id}",
		Summary:     "Upsert asset check",
		Description: "Saves one inspection result; repeated saves replace the same row.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string             `path:"report_id"`
		AssetID  string             `path:"asset_id"`
		Body     UpsertCheckRequest `json:"body"`
	}) (*struct {
		Body domain.ReportCheck `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c := domain.ReportCheck{
			ReportID:   input.ReportID,
			AssetID:    input.AssetID,
			AssetName:  input.Body.AssetName,
			Location:   input.Body.Location,
			Status:     input.Body.Status,
			Notes:      input.Body.Notes,
			Defect:     input.Body.Defect,
			PhotosJSON: input.Body.PhotosJSON,
			RecordedBy: input.Body.RecordedBy,
			RecordedAt: input.Body.RecordedAt,
		}
		if c.RecordedAt == "" {
			c.RecordedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if err := e.Repo.UpsertCheck(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReportCheck `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checks",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/checks",
		Summary:     "List asset checks",
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body []domain.ReportCheck `json:"body"`
	}, error) {
		items, err := e.Repo.ListChecks(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ReportCheck `json:"body"`
		}{Body: items}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bulk-issues",
		Method:      http.MethodPost,
		Path:        "/issues/bulk",
		Summary:     "Bulk insert issues",
		Description: "Inserts the batch in one transaction keyed by source_ref, so a replayed batch converges on the same rows.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body BulkIssuesRequest `json:"body"`
	}) (*struct {
		Body BulkIssuesResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		for i, iss := range input.Body.Issues {
			if iss.ID == "" || iss.SourceRef == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request",
					fmt.Sprintf("issues[%d]: id and source_ref are required", i), nil)
			}
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.BulkInsertIssues(ctx, input.Body.Issues); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkIssuesResponse `json:"body"`
		}{Body: BulkIssuesResponse{Inserted: len(input.Body.Issues)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		ReportID  string `query:"report_id"`
		Severity  string `query:"severity"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Issue `json:"body"`
	}, error) {
		items, err := e.Repo.ListIssues(ctx, repo.IssueFilters{
			ProjectID: input.ProjectID,
			ReportID:  input.ReportID,
			Severity:  input.Severity,
			Status:    input.Status,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Issue `json:"body"`
		}{Body: items}, nil
	})
}

func registerTeam(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-team-member",
		Method:        http.MethodPost,
		Path:          "/team",
		Summary:       "Add team member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body AddTeamMemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and role are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.AddTeamMember(ctx, domain.TeamMember{
			ID:        input.Body.ID,
			ProjectID: input.Body.ProjectID,
			Name:      input.Body.Name,
			Role:      input.Body.Role,
			Active:    true,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "List team members",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		projectID := input.ProjectID
		if projectID == "" && e.Config != nil {
			projectID = e.Config.Project.ID
		}
		items, err := e.Repo.ListTeamMembers(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		reports, err := e.Repo.ListReports(ctx, repo.ReportFilters{ProjectID: input.ProjectID})
		if err != nil {
			return nil, handleError(err)
		}
		counts := map[string]int{}
		for _, r := range reports {
			counts[r.Status]++
		}
		open, err := e.Repo.ListIssues(ctx, repo.IssueFilters{ProjectID: input.ProjectID, Status: "open"})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			ProjectID:    input.ProjectID,
			ReportCounts: counts,
			OpenIssues:   len(open),
		}}, nil
	})
}
