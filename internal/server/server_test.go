package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
	"fieldline/internal/remote"
	"fieldline/internal/repo"
	"fieldline/internal/submit"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("proj-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, engine.LocalStore{Repo: repo.Repo{DB: conn}})
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func signToken(t *testing.T, subject string, roles []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestReportSubmissionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"id": "rep-1", "project_id": "proj-1", "period_key": "2026-03-02", "flow": "inspection",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created ReportResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if created.Status != "draft" || created.CreatedAt == "" {
		t.Fatalf("created report: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/reports/rep-1/checks/a1", map[string]any{
		"asset_name": "Railing", "status": "defect_found", "defect": "cracked weld", "recorded_by": "tester",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert check status %d: %s", res.StatusCode, data)
	}

	issue := map[string]any{
		"id": "is-1", "project_id": "proj-1", "report_id": "rep-1", "source_ref": "rep-1|a1",
		"severity": "severe", "title": "Defect found: Railing", "status": "open",
		"created_at": "2026-03-02T17:00:00Z",
	}
	for i := 0; i < 2; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/bulk", map[string]any{
			"issues": []any{issue},
		}, actorHeaders())
		if res.StatusCode != http.StatusOK {
			t.Fatalf("bulk issues status %d: %s", res.StatusCode, data)
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues?project_id=proj-1", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list issues status %d: %s", res.StatusCode, data)
	}
	var issues []domain.Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		t.Fatalf("unmarshal issues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("replayed batch must converge on one row, got %d", len(issues))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/rep-1/finalize", map[string]any{
		"status": "pending_review", "body_json": `{"flow":"inspection"}`,
		"submitted_by": "tester", "submitted_at": "2026-03-02T17:00:00Z",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/rep-1/review", map[string]any{
		"status": "accepted", "note": "looks complete",
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, data)
	}
	var reviewed ReportResponse
	if err := json.Unmarshal(data, &reviewed); err != nil {
		t.Fatalf("unmarshal reviewed: %v", err)
	}
	if reviewed.Status != "accepted" || reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != "tester" {
		t.Fatalf("reviewed report: %+v", reviewed)
	}

	// An already reviewed report cannot be reviewed again.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/rep-1/review", map[string]any{
		"status": "returned",
	}, actorHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double review status %d: %s", res.StatusCode, data)
	}
}

func TestCreateReportIdempotent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	body := map[string]any{"id": "rep-1", "project_id": "proj-1", "period_key": "2026-03-02", "flow": "daily"}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", body, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first create %d: %s", res.StatusCode, data)
	}
	var first ReportResponse
	_ = json.Unmarshal(data, &first)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", body, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("retried create %d: %s", res.StatusCode, data)
	}
	var second ReportResponse
	_ = json.Unmarshal(data, &second)
	if first.CreatedAt != second.CreatedAt {
		t.Fatalf("retried create must keep the original row: %s vs %s", first.CreatedAt, second.CreatedAt)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"id": "rep-1", "project_id": "proj-1", "period_key": "2026-03-02", "flow": "daily",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Body apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Body.Code != "unauthorized" {
		t.Fatalf("error code: %+v", envelope.Body)
	}
	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestReviewRequiresSupervisorRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	if err := srv.Engine.Repo.UpsertReport(context.Background(), domain.Report{
		ID: "rep-1", ProjectID: "proj-1", PeriodKey: "2026-03-02", Flow: "inspection",
		Status: "pending_review", CreatedAt: "2026-03-02T08:00:00Z", UpdatedAt: "2026-03-02T08:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	body := map[string]any{"status": "accepted"}

	worker := map[string]string{"Authorization": "Bearer " + signToken(t, "worker-1", nil)}
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/rep-1/review", body, worker)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("worker review status %d: %s", res.StatusCode, data)
	}

	supervisor := map[string]string{"Authorization": "Bearer " + signToken(t, "sup-1", []string{"supervisor"})}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/reports/rep-1/review", body, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("supervisor review status %d: %s", res.StatusCode, data)
	}
	var reviewed ReportResponse
	_ = json.Unmarshal(data, &reviewed)
	if reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != "sup-1" {
		t.Fatalf("reviewed by: %+v", reviewed)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID: "k-1", ActorID: "device-7", Name: "tablet",
		KeyHash: repo.HashAPIKey("device-secret"), CreatedAt: "2026-03-02T08:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"id": "rep-1", "project_id": "proj-1", "period_key": "2026-03-02", "flow": "daily",
	}, map[string]string{"X-Api-Key": "device-secret"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("api key create status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"id": "rep-2", "project_id": "proj-1", "period_key": "2026-03-03", "flow": "daily",
	}, map[string]string{"X-Api-Key": "wrong-secret"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status %d: %s", res.StatusCode, data)
	}
}

func TestProjectStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	for i, status := range []string{"submitted", "pending_review"} {
		if err := srv.Engine.Repo.UpsertReport(ctx, domain.Report{
			ID: fmt.Sprintf("rep-%d", i+1), ProjectID: "proj-1", PeriodKey: fmt.Sprintf("2026-03-%02d", i+1),
			Flow: "daily", Status: status, CreatedAt: "2026-03-01T08:00:00Z", UpdatedAt: "2026-03-01T08:00:00Z",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := srv.Engine.Repo.BulkInsertIssues(ctx, []domain.Issue{{
		ID: "is-1", ProjectID: "proj-1", ReportID: "rep-1", SourceRef: "rep-1|a1",
		Severity: "moderate", Title: "Needs attention", Status: "open", CreatedAt: "2026-03-01T09:00:00Z",
	}}); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/status", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.ReportCounts["submitted"] != 1 || status.ReportCounts["pending_review"] != 1 || status.OpenIssues != 1 {
		t.Fatalf("status payload: %+v", status)
	}
}

// The field client walks the same save sequence over the wire.
func TestRemoteClientRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID: "k-1", ActorID: "device-7", KeyHash: repo.HashAPIKey("device-secret"), CreatedAt: "2026-03-02T08:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	client := remote.New(srv.URL)
	client.APIKey = "device-secret"

	rep := domain.Report{
		ID: "rep-1", ProjectID: "proj-1", PeriodKey: "2026-03-02", Flow: "inspection",
		Status: "draft", CreatedAt: "2026-03-02T08:00:00Z", UpdatedAt: "2026-03-02T08:00:00Z",
	}
	if err := client.CreateParent(ctx, rep); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if err := client.UpsertChild(ctx, domain.ReportCheck{
		ReportID: "rep-1", AssetID: "a1", AssetName: "Railing", Status: "ok",
		RecordedBy: "device-7", RecordedAt: "2026-03-02T10:00:00Z",
	}); err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	if err := client.BulkInsert(ctx, []domain.Issue{{
		ID: "is-1", ProjectID: "proj-1", ReportID: "rep-1", SourceRef: "rep-1|a1",
		Severity: "moderate", Title: "Needs attention: Railing", Status: "open", CreatedAt: "2026-03-02T17:00:00Z",
	}}); err != nil {
		t.Fatalf("bulk insert: %v", err)
	}
	if err := client.UpdateParent(ctx, "rep-1", submit.Finalize{
		Status: "pending_review", BodyJSON: `{"flow":"inspection"}`,
		SubmittedBy: "device-7", SubmittedAt: "2026-03-02T17:00:00Z",
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	stored, err := srv.Engine.Repo.GetReport(ctx, "rep-1")
	if err != nil || stored.Status != "pending_review" {
		t.Fatalf("stored report: %v %+v", err, stored)
	}
	if err := client.Review(ctx, "rep-1", "accepted", "all clear"); err != nil {
		t.Fatalf("review: %v", err)
	}
	stored, err = srv.Engine.Repo.GetReport(ctx, "rep-1")
	if err != nil || stored.Status != "accepted" {
		t.Fatalf("reviewed report: %v %+v", err, stored)
	}

	// Server-side failures surface as APIError, not offline.
	err = client.UpdateParent(ctx, "missing", submit.Finalize{
		Status: "submitted", SubmittedBy: "device-7", SubmittedAt: "2026-03-02T17:00:00Z",
	})
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("missing report error: %v", err)
	}
}

// An unreachable host classifies as offline rather than a hard error.
func TestRemoteClientOffline(t *testing.T) {
	client := remote.New("http://127.0.0.1:1")
	client.Timeout = 500 * time.Millisecond
	err := client.CreateParent(context.Background(), domain.Report{
		ID: "rep-1", ProjectID: "proj-1", PeriodKey: "2026-03-02", Flow: "daily",
		Status: "draft", CreatedAt: "2026-03-02T08:00:00Z", UpdatedAt: "2026-03-02T08:00:00Z",
	})
	if err == nil {
		t.Fatalf("expected connection failure")
	}
	if !errors.Is(err, submit.ErrOffline) {
		t.Fatalf("connection refused must classify as offline: %v", err)
	}
}
