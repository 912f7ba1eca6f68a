package submit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fieldline/internal/domain"
	"fieldline/internal/escalate"
	"fieldline/internal/payload"
	"fieldline/internal/submit"
)

type fakeStore struct {
	mu       sync.Mutex
	steps    []string
	parents  []domain.Report
	checks   []domain.ReportCheck
	issues   []domain.Issue
	finals   map[string]submit.Finalize
	failWith error
	failStep string
}

func newFakeStore() *fakeStore {
	return &fakeStore{finals: map[string]submit.Finalize{}}
}

func (s *fakeStore) record(step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	if s.failWith != nil && s.failStep == step {
		return s.failWith
	}
	return nil
}

func (s *fakeStore) CreateParent(ctx context.Context, rep domain.Report) error {
	if err := s.record("parent"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents = append(s.parents, rep)
	return nil
}

func (s *fakeStore) UpdateParent(ctx context.Context, id string, fin submit.Finalize) error {
	if err := s.record("finalize"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals[id] = fin
	return nil
}

func (s *fakeStore) UpsertChild(ctx context.Context, check domain.ReportCheck) error {
	if err := s.record("child"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, check)
	return nil
}

func (s *fakeStore) BulkInsert(ctx context.Context, issues []domain.Issue) error {
	if err := s.record("issues"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issues...)
	return nil
}

type fakeQueue struct {
	items []domain.QueuedSubmission
}

func (q *fakeQueue) Enqueue(ctx context.Context, item domain.QueuedSubmission) error {
	// One intent per draft identity.
	for i := range q.items {
		if q.items[i].ID == item.ID {
			q.items[i] = item
			return nil
		}
	}
	q.items = append(q.items, item)
	return nil
}

func testIntent() submit.Intent {
	parent := domain.Report{ID: "rep-1", ProjectID: "proj-1", PeriodKey: "2026-03-02", Flow: "inspection", Status: "draft"}
	return submit.Intent{
		ReportID:  "rep-1",
		ProjectID: "proj-1",
		PeriodKey: "2026-03-02",
		Flow:      "inspection",
		Parent:    &parent,
		Report:    payload.NormalizedReport{ProjectID: "proj-1", PeriodKey: "2026-03-02", Flow: "inspection"},
		Checks: []domain.ReportCheck{
			{ReportID: "rep-1", AssetID: "a1", AssetName: "Railing", Status: "defect_found", RecordedBy: "tester", RecordedAt: "2026-03-02T16:00:00Z"},
			{ReportID: "rep-1", AssetID: "a2", AssetName: "Ladder", Status: "ok", RecordedBy: "tester", RecordedAt: "2026-03-02T16:00:00Z"},
		},
		Candidates: []escalate.Candidate{
			{SourceRef: "rep-1|a1", Severity: "severe", Title: "Defect found: Railing"},
		},
		Finalize:    true,
		SubmittedBy: "tester",
		SubmittedAt: "2026-03-02T17:00:00Z",
	}
}

func fixedNow() time.Time { return time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC) }

func TestSubmitSuccessOrder(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}
	outcome := c.Submit(context.Background(), testIntent())
	if outcome.Status != submit.OutcomeSuccess || outcome.State != submit.StateDone {
		t.Fatalf("outcome: %+v", outcome)
	}
	if len(store.parents) != 1 || len(store.checks) != 2 || len(store.issues) != 1 {
		t.Fatalf("store: parents=%d checks=%d issues=%d", len(store.parents), len(store.checks), len(store.issues))
	}
	// Children before escalations before finalize.
	last := map[string]int{}
	for i, s := range store.steps {
		last[s] = i
	}
	if !(last["parent"] < last["child"] && last["child"] < last["issues"] && last["issues"] < last["finalize"]) {
		t.Fatalf("step order: %v", store.steps)
	}
	fin, ok := store.finals["rep-1"]
	if !ok || fin.Status != "pending_review" {
		t.Fatalf("inspection finalize: %+v", fin)
	}
	if len(queue.items) != 0 {
		t.Fatalf("nothing should queue on success: %+v", queue.items)
	}
}

func TestSubmitDailyFinalStatus(t *testing.T) {
	store := newFakeStore()
	c := submit.Coordinator{Store: store, Queue: &fakeQueue{}, Now: fixedNow}
	intent := testIntent()
	intent.Flow = "daily"
	intent.Candidates = nil
	outcome := c.Submit(context.Background(), intent)
	if outcome.Status != submit.OutcomeSuccess {
		t.Fatalf("outcome: %+v", outcome)
	}
	if fin := store.finals["rep-1"]; fin.Status != "submitted" {
		t.Fatalf("daily finalize status: %q", fin.Status)
	}
	for _, s := range store.steps {
		if s == "issues" {
			t.Fatalf("empty candidates must skip the bulk insert: %v", store.steps)
		}
	}
}

func TestSubmitOfflineQueues(t *testing.T) {
	store := newFakeStore()
	store.failStep = "child"
	store.failWith = fmt.Errorf("dial: %w", submit.ErrOffline)
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}
	outcome := c.Submit(context.Background(), testIntent())
	if outcome.Status != submit.OutcomeQueued || outcome.State != submit.StateOfflineQueued {
		t.Fatalf("outcome: %+v", outcome)
	}
	if outcome.Message == "" {
		t.Fatalf("queued outcome needs a user-facing message")
	}
	if len(queue.items) != 1 {
		t.Fatalf("expected exactly one queued intent, got %d", len(queue.items))
	}
	q := queue.items[0]
	if q.ProjectID != "proj-1" || q.PeriodKey != "2026-03-02" || q.IntentJSON == "" {
		t.Fatalf("queued item: %+v", q)
	}
}

func TestSubmitOfflineTwiceKeepsOneIntent(t *testing.T) {
	store := newFakeStore()
	store.failStep = "parent"
	store.failWith = submit.ErrOffline
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}
	_ = c.Submit(context.Background(), testIntent())
	_ = c.Submit(context.Background(), testIntent())
	if len(queue.items) != 1 {
		t.Fatalf("resubmitting the same draft must replace the queued intent, got %d", len(queue.items))
	}
}

func TestSubmitOfflineDistinctIntentsQueueSeparately(t *testing.T) {
	store := newFakeStore()
	store.failStep = "parent"
	store.failWith = submit.ErrOffline
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}

	full := testIntent()
	_ = c.Submit(context.Background(), full)

	fastPath := testIntent()
	fastPath.Finalize = false
	fastPath.Checks = nil
	fastPath.Candidates = []escalate.Candidate{
		{SourceRef: "rep-1|incident|i1", Severity: "severe", Title: "Incident reported: injury"},
	}
	_ = c.Submit(context.Background(), fastPath)

	if len(queue.items) != 2 {
		t.Fatalf("distinct intents for the same draft must both queue, got %d", len(queue.items))
	}
	if queue.items[0].ID == queue.items[1].ID {
		t.Fatalf("intent ids must differ: %s", queue.items[0].ID)
	}
}

func TestSubmitPartialBatchFailure(t *testing.T) {
	store := newFakeStore()
	store.failStep = "child"
	store.failWith = errors.New("constraint violation")
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}
	outcome := c.Submit(context.Background(), testIntent())
	if outcome.Status != submit.OutcomeError {
		t.Fatalf("outcome: %+v", outcome)
	}
	if outcome.Err == nil || errors.Is(outcome.Err, submit.ErrOffline) {
		t.Fatalf("non-offline failure must surface as error: %v", outcome.Err)
	}
	if len(queue.items) != 0 {
		t.Fatalf("non-offline failure must not queue: %+v", queue.items)
	}
	if len(store.finals) != 0 {
		t.Fatalf("failed batch must not finalize: %+v", store.finals)
	}
}

func TestSubmitOfflineAtFinalize(t *testing.T) {
	store := newFakeStore()
	store.failStep = "finalize"
	store.failWith = submit.ErrOffline
	queue := &fakeQueue{}
	c := submit.Coordinator{Store: store, Queue: queue, Now: fixedNow}
	outcome := c.Submit(context.Background(), testIntent())
	if outcome.Status != submit.OutcomeQueued {
		t.Fatalf("offline at any step must queue: %+v", outcome)
	}
}

func TestIssuesDeterministicIDs(t *testing.T) {
	intent := testIntent()
	first := submit.Issues(intent)
	second := submit.Issues(intent)
	if len(first) != 1 {
		t.Fatalf("issues: %+v", first)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("issue ids diverged: %s vs %s", first[0].ID, second[0].ID)
	}
	if first[0].SourceRef != "rep-1|a1" || first[0].Status != "open" {
		t.Fatalf("issue row: %+v", first[0])
	}
	if first[0].CreatedAt != intent.SubmittedAt {
		t.Fatalf("issue timestamp must come from the intent, got %s", first[0].CreatedAt)
	}
}
