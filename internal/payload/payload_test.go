package payload_test

import (
	"strings"
	"testing"

	"fieldline/internal/draft"
	"fieldline/internal/payload"
)

func sampleDraft() *draft.Draft {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	_ = d.UpsertEntry(draft.CrewEntry{ID: "c1", Company: "Acme", Trade: "concrete", Workers: 2, Hours: 8})
	_ = d.UpsertEntry(draft.CrewEntry{ID: "c2", Company: "Beta", Workers: 3, Hours: 8})
	_ = d.UpsertEntry(draft.CrewEntry{ID: "c3", Company: "Core", Workers: 1, Hours: 4})
	d.SetWork("poured footings on grid line A")
	return d
}

func TestBuildTotals(t *testing.T) {
	n := payload.Build(sampleDraft())
	if n.TotalWorkers != 6 {
		t.Fatalf("total workers: got %d, want 6", n.TotalWorkers)
	}
	if n.TotalManHours != 44 {
		t.Fatalf("total man hours: got %g, want 44", n.TotalManHours)
	}
}

func TestBuildSubcontractorFallback(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	_ = d.UpsertEntry(draft.SubcontractorEntry{ID: "s1", Company: "Volt Electric", Workers: 5})
	n := payload.Build(d)
	if n.TotalWorkers != 5 {
		t.Fatalf("expected subcontractor fallback workers 5, got %d", n.TotalWorkers)
	}
	// Crew present: subs no longer count toward the total.
	_ = d.UpsertEntry(draft.CrewEntry{ID: "c1", Company: "Acme", Workers: 2, Hours: 8})
	n = payload.Build(d)
	if n.TotalWorkers != 2 {
		t.Fatalf("expected crew-only workers 2, got %d", n.TotalWorkers)
	}
}

func TestBuildDeterministic(t *testing.T) {
	d := sampleDraft()
	first, err := payload.Marshal(payload.Build(d))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := payload.Marshal(payload.Build(d))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if first != second {
		t.Fatalf("build diverged:\n%s\n%s", first, second)
	}
}

func TestBuildOmitsEmptySections(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	d.SetWork("installed formwork for the slab")
	out, err := payload.Marshal(payload.Build(d))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{"crew_summary", "weather", "safety", "incident_summary", "visitor_log", "photos"} {
		if strings.Contains(out, key) {
			t.Fatalf("expected %q omitted from %s", key, out)
		}
	}
}

func TestBuildSummaries(t *testing.T) {
	d := sampleDraft()
	_ = d.UpsertEntry(draft.EquipmentEntry{ID: "e1", Name: "excavator", Count: 2, HoursUsed: 6})
	_ = d.UpsertEntry(draft.EquipmentEntry{ID: "e2", Name: "crane", Count: 1, Idle: true})
	_ = d.UpsertEntry(draft.MaterialDelivery{ID: "m1", Supplier: "ReadyMix", Material: "concrete", Quantity: 12, Unit: "m3"})
	_ = d.UpsertEntry(draft.IncidentEntry{ID: "i1", Type: "near_miss", Time: "10:30", Description: "dropped load"})
	n := payload.Build(d)
	if got, want := n.CrewSummary, "Acme (concrete): 2 workers, 8h\nBeta: 3 workers, 8h\nCore: 1 workers, 4h"; got != want {
		t.Fatalf("crew summary:\n%s\nwant:\n%s", got, want)
	}
	if got, want := n.EquipmentSummary, "2x excavator, 6h used\n1x crane (idle)"; got != want {
		t.Fatalf("equipment summary: %q", got)
	}
	if got, want := n.MaterialSummary, "12 m3 concrete from ReadyMix"; got != want {
		t.Fatalf("material summary: %q", got)
	}
	if got, want := n.IncidentSummary, "near_miss at 10:30: dropped load"; got != want {
		t.Fatalf("incident summary: %q", got)
	}
}

func TestBuildCollectsPhotos(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	d.AddPhotos("site.jpg")
	_ = d.UpsertEntry(draft.MaterialDelivery{ID: "m1", Supplier: "S", Material: "rebar", Photos: []string{"rebar.jpg"}})
	d.SetSafety(draft.Safety{ToolboxTopic: "ppe", Photos: []string{"toolbox.jpg"}})
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "Scaffold", Status: draft.CheckOK, Photos: []string{"scaffold.jpg"}})
	n := payload.Build(d)
	want := []string{"site.jpg", "rebar.jpg", "toolbox.jpg", "scaffold.jpg"}
	if len(n.Photos) != len(want) {
		t.Fatalf("photos: %v", n.Photos)
	}
	for i := range want {
		if n.Photos[i] != want[i] {
			t.Fatalf("photo order: %v, want %v", n.Photos, want)
		}
	}
}

func TestBuildCheckCounters(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "Railing", Status: draft.CheckOK})
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a2", Name: "Ladder", Status: draft.CheckNeedsAttention})
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a3", Name: "Scaffold", Status: draft.CheckDefectFound, Defect: "bent brace"})
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a4", Name: "Crane"}) // unset, not counted
	n := payload.Build(d)
	if n.ChecksTotal != 3 || n.ChecksOK != 1 || n.Defects != 1 {
		t.Fatalf("check counters: total=%d ok=%d defects=%d", n.ChecksTotal, n.ChecksOK, n.Defects)
	}
}

func TestBuildTrimsNarratives(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	d.SetWork("  poured footings  ")
	d.SetNotes("\tcleanup pending\n")
	n := payload.Build(d)
	if n.WorkPerformed != "poured footings" || n.GeneralNotes != "cleanup pending" {
		t.Fatalf("narratives not trimmed: %q %q", n.WorkPerformed, n.GeneralNotes)
	}
}
