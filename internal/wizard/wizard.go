// Package wizard models the guided inspection flow and the submit gates
// shared by both report flows. Section completion display lives in the
// draft package; this package only decides what the user may do next.
package wizard

import (
	"fmt"
	"strings"

	"fieldline/internal/draft"
)

type Step string

const (
	StepStart   Step = "start"
	StepAssets  Step = "assets"
	StepNotes   Step = "notes"
	StepReview  Step = "review"
	StepSuccess Step = "success"
)

// Machine tracks the inspection flow's current step for one draft.
type Machine struct {
	Step         Step
	Draft        *draft.Draft
	NarrativeMin int
}

func NewMachine(d *draft.Draft, narrativeMin int) *Machine {
	return &Machine{Step: StepStart, Draft: d, NarrativeMin: narrativeMin}
}

// Advance moves to the target step after checking the transition and its
// preconditions. Backward navigation between the middle steps is free.
func (m *Machine) Advance(to Step) error {
	if err := ensureStepTransition(m.Step, to); err != nil {
		return err
	}
	switch to {
	case StepAssets:
		if m.Step == StepStart && strings.TrimSpace(m.Draft.Sections.Weather.Condition) == "" {
			return fmt.Errorf("weather must be selected before starting the inspection")
		}
	case StepSuccess:
		if !m.Draft.Certified {
			return fmt.Errorf("certification required before completing the inspection")
		}
	}
	m.Step = to
	return nil
}

func ensureStepTransition(from, to Step) error {
	switch from {
	case StepStart:
		if to == StepAssets {
			return nil
		}
	case StepAssets:
		if to == StepNotes || to == StepReview {
			return nil
		}
	case StepNotes:
		if to == StepAssets || to == StepReview {
			return nil
		}
	case StepReview:
		if to == StepAssets || to == StepNotes || to == StepSuccess {
			return nil
		}
	case StepSuccess:
		// Terminal: the submitted record is view-only from here.
	}
	return fmt.Errorf("invalid step transition %s -> %s", from, to)
}

// SubmitGate returns the unmet conditions blocking submission. An empty
// result means the submit action is enabled. Section completion beyond the
// primary narrative never blocks; it is display-only.
func SubmitGate(d *draft.Draft, narrativeMin int) []string {
	var unmet []string
	switch d.Flow {
	case draft.FlowInspection:
		if strings.TrimSpace(d.Sections.Weather.Condition) == "" {
			unmet = append(unmet, "weather not selected")
		}
		if countRecorded(d) == 0 {
			unmet = append(unmet, "no asset checks recorded")
		}
		if !d.Certified {
			unmet = append(unmet, "certification not acknowledged")
		}
	default:
		if !draft.NarrativeComplete(d, narrativeMin) {
			unmet = append(unmet, "work narrative too short")
		}
	}
	return unmet
}

func countRecorded(d *draft.Draft) int {
	n := 0
	for _, c := range d.Checks {
		if c.Status != draft.CheckUnset && c.Status != "" {
			n++
		}
	}
	return n
}

// Warnings are advisory review-step notices; they never block submission.
func Warnings(d *draft.Draft, lateVisitorHour int) []string {
	var out []string
	for _, c := range d.Checks {
		if c.Status == draft.CheckDefectFound {
			out = append(out, fmt.Sprintf("severe defect on %s", c.Name))
		}
	}
	for _, v := range d.Sections.Visitors {
		if v.LeftAt == "" && v.ArrivedAt != "" && lateVisitorHour > 0 {
			if hourOf(v.ArrivedAt) >= lateVisitorHour {
				out = append(out, fmt.Sprintf("visitor %s may still be on site", v.Name))
			}
		}
	}
	return out
}

// hourOf parses the leading hour from an HH:MM string; -1 when malformed.
func hourOf(hhmm string) int {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return -1
	}
	if h < 0 || h > 23 {
		return -1
	}
	return h
}
