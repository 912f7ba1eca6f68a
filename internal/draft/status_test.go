package draft_test

import (
	"testing"

	"fieldline/internal/draft"
)

func TestEvaluateListSections(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	st, n := draft.Evaluate(d, draft.SectionCrew, 10)
	if st != draft.StatusNotStarted || n != 0 {
		t.Fatalf("empty crew: %s %d", st, n)
	}
	_ = d.UpsertEntry(draft.CrewEntry{ID: "c1", Company: "Acme"})
	st, n = draft.Evaluate(d, draft.SectionCrew, 10)
	if st != draft.StatusComplete || n != 1 {
		t.Fatalf("one crew entry: %s %d", st, n)
	}
}

func TestEvaluateNarrative(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusNotStarted {
		t.Fatalf("empty work: %s", st)
	}
	d.SetWork("   ")
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusNotStarted {
		t.Fatalf("whitespace work: %s", st)
	}
	d.SetWork("short")
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusPartial {
		t.Fatalf("short work: %s", st)
	}
	d.SetWork("poured footings for grid line A")
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusComplete {
		t.Fatalf("full work: %s", st)
	}
}

// The threshold counts characters, not bytes; multi-byte text below the
// minimum is still partial.
func TestEvaluateNarrativeCountsRunes(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	d.SetWork("基礎を打設") // 5 characters, 15 bytes
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusPartial {
		t.Fatalf("5-character work: %s", st)
	}
	d.SetWork("基礎を打設し型枠を解体した") // 13 characters
	if st, _ := draft.Evaluate(d, draft.SectionWork, 10); st != draft.StatusComplete {
		t.Fatalf("13-character work: %s", st)
	}
}

// Adding content never lowers a section's status.
func TestStatusMonotonic(t *testing.T) {
	rank := map[draft.Status]int{
		draft.StatusNotStarted: 0,
		draft.StatusPartial:    1,
		draft.StatusComplete:   2,
	}
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	prev, _ := draft.Evaluate(d, draft.SectionSafety, 10)
	steps := []func(){
		func() { d.SetSafety(draft.Safety{Observations: "crew wearing PPE"}) },
		func() { d.SetSafety(draft.Safety{Observations: "crew wearing PPE", ToolboxTopic: "fall protection"}) },
	}
	for i, step := range steps {
		step()
		cur, _ := draft.Evaluate(d, draft.SectionSafety, 10)
		if rank[cur] < rank[prev] {
			t.Fatalf("step %d regressed %s -> %s", i, prev, cur)
		}
		prev = cur
	}
	if prev != draft.StatusComplete {
		t.Fatalf("expected complete after toolbox topic, got %s", prev)
	}
}

func TestEvaluateWeather(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	if st, _ := draft.Evaluate(d, draft.SectionWeather, 10); st != draft.StatusNotStarted {
		t.Fatalf("empty weather: %s", st)
	}
	d.SetWeather(draft.Weather{Condition: "rain"})
	if st, _ := draft.Evaluate(d, draft.SectionWeather, 10); st != draft.StatusComplete {
		t.Fatalf("weather with condition: %s", st)
	}
}

func TestNarrativeComplete(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	d.SetWork("formed and poured the east footing")
	if !draft.NarrativeComplete(d, 10) {
		t.Fatalf("expected narrative complete")
	}
	if draft.NarrativeComplete(d, 100) {
		t.Fatalf("expected narrative incomplete at min 100")
	}
}
