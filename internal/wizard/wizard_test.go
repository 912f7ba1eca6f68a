package wizard_test

import (
	"errors"
	"strings"
	"testing"

	"fieldline/internal/draft"
	"fieldline/internal/wizard"
)

func inspectionDraft() *draft.Draft {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	d.SetWeather(draft.Weather{Condition: "clear"})
	return d
}

func TestAdvanceHappyPath(t *testing.T) {
	d := inspectionDraft()
	m := wizard.NewMachine(d, 10)
	steps := []wizard.Step{wizard.StepAssets, wizard.StepNotes, wizard.StepReview}
	for _, s := range steps {
		if err := m.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	d.SetCertified(true)
	if err := m.Advance(wizard.StepSuccess); err != nil {
		t.Fatalf("advance to success: %v", err)
	}
	if m.Step != wizard.StepSuccess {
		t.Fatalf("step: %s", m.Step)
	}
}

func TestAdvanceRequiresWeather(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	m := wizard.NewMachine(d, 10)
	if err := m.Advance(wizard.StepAssets); err == nil {
		t.Fatalf("expected weather precondition to block start")
	}
	d.SetWeather(draft.Weather{Condition: "rain"})
	if err := m.Advance(wizard.StepAssets); err != nil {
		t.Fatalf("advance after weather: %v", err)
	}
}

func TestAdvanceRequiresCertification(t *testing.T) {
	d := inspectionDraft()
	m := wizard.NewMachine(d, 10)
	_ = m.Advance(wizard.StepAssets)
	_ = m.Advance(wizard.StepReview)
	if err := m.Advance(wizard.StepSuccess); err == nil {
		t.Fatalf("expected certification precondition to block success")
	}
	if m.Step != wizard.StepReview {
		t.Fatalf("failed advance must not move the step, got %s", m.Step)
	}
}

func TestBackwardNavigation(t *testing.T) {
	d := inspectionDraft()
	m := wizard.NewMachine(d, 10)
	_ = m.Advance(wizard.StepAssets)
	_ = m.Advance(wizard.StepNotes)
	if err := m.Advance(wizard.StepAssets); err != nil {
		t.Fatalf("notes -> assets: %v", err)
	}
	_ = m.Advance(wizard.StepReview)
	if err := m.Advance(wizard.StepNotes); err != nil {
		t.Fatalf("review -> notes: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	d := inspectionDraft()
	d.SetCertified(true)
	m := wizard.NewMachine(d, 10)
	if err := m.Advance(wizard.StepReview); err == nil {
		t.Fatalf("start -> review must be invalid")
	}
	_ = m.Advance(wizard.StepAssets)
	_ = m.Advance(wizard.StepReview)
	_ = m.Advance(wizard.StepSuccess)
	if err := m.Advance(wizard.StepReview); err == nil {
		t.Fatalf("success is terminal")
	}
}

// A submission attempt that errors must leave the machine at review so the
// user can retry; success is entered only once an outcome is in hand.
func TestReviewRetryAfterFailedSubmit(t *testing.T) {
	d := inspectionDraft()
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "Railing", Status: draft.CheckOK})
	m := wizard.NewMachine(d, 10)
	_ = m.Advance(wizard.StepAssets)
	_ = m.Advance(wizard.StepReview)
	d.SetCertified(true)

	submit := func(fail bool) error {
		if fail {
			return errTransient
		}
		return m.Advance(wizard.StepSuccess)
	}
	if err := submit(true); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if m.Step != wizard.StepReview {
		t.Fatalf("failed submit must leave the wizard at review, got %s", m.Step)
	}
	if err := submit(false); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.Step != wizard.StepSuccess {
		t.Fatalf("step after retry: %s", m.Step)
	}
}

var errTransient = errors.New("connection reset")

func TestSubmitGateDaily(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowDaily)
	if unmet := wizard.SubmitGate(d, 10); len(unmet) != 1 {
		t.Fatalf("empty daily draft: %v", unmet)
	}
	d.SetWork("short")
	if unmet := wizard.SubmitGate(d, 10); len(unmet) != 1 {
		t.Fatalf("partial narrative must still gate: %v", unmet)
	}
	d.SetWork("poured footings on grid line A")
	if unmet := wizard.SubmitGate(d, 10); len(unmet) != 0 {
		t.Fatalf("narrative alone should open the gate: %v", unmet)
	}
}

func TestSubmitGateInspection(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	unmet := wizard.SubmitGate(d, 10)
	if len(unmet) != 3 {
		t.Fatalf("empty inspection draft: %v", unmet)
	}
	d.SetWeather(draft.Weather{Condition: "clear"})
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "Railing", Status: draft.CheckOK})
	unmet = wizard.SubmitGate(d, 10)
	if len(unmet) != 1 || !strings.Contains(unmet[0], "certification") {
		t.Fatalf("expected only certification unmet: %v", unmet)
	}
	d.SetCertified(true)
	if unmet := wizard.SubmitGate(d, 10); len(unmet) != 0 {
		t.Fatalf("gate should be open: %v", unmet)
	}
}

func TestSubmitGateIgnoresUnsetChecks(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	d.SetWeather(draft.Weather{Condition: "clear"})
	d.SetCertified(true)
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "Railing"})
	unmet := wizard.SubmitGate(d, 10)
	if len(unmet) != 1 || !strings.Contains(unmet[0], "asset checks") {
		t.Fatalf("unset checks must not count as recorded: %v", unmet)
	}
}

func TestWarnings(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "north railing", Status: draft.CheckDefectFound, Defect: "cracked"})
	_ = d.UpsertEntry(draft.VisitorEntry{ID: "v1", Name: "Inspector Ruiz", ArrivedAt: "19:30"})
	_ = d.UpsertEntry(draft.VisitorEntry{ID: "v2", Name: "Early Bird", ArrivedAt: "09:00"})
	_ = d.UpsertEntry(draft.VisitorEntry{ID: "v3", Name: "Gone Home", ArrivedAt: "19:00", LeftAt: "19:45"})
	out := wizard.Warnings(d, 18)
	if len(out) != 2 {
		t.Fatalf("warnings: %v", out)
	}
	if !strings.Contains(out[0], "north railing") {
		t.Fatalf("defect warning: %q", out[0])
	}
	if !strings.Contains(out[1], "Inspector Ruiz") {
		t.Fatalf("late visitor warning: %q", out[1])
	}
}

func TestWarningsNeverBlock(t *testing.T) {
	d := draft.New("proj-1", "2026-03-02", draft.FlowInspection)
	d.SetWeather(draft.Weather{Condition: "clear"})
	d.SetCertified(true)
	_ = d.UpsertCheck(draft.AssetCheck{AssetID: "a1", Name: "railing", Status: draft.CheckDefectFound, Defect: "cracked"})
	if unmet := wizard.SubmitGate(d, 10); len(unmet) != 0 {
		t.Fatalf("defect warnings must not gate: %v", unmet)
	}
}
