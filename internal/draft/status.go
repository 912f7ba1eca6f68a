package draft

import (
	"strings"
	"unicode/utf8"
)

// Status is the derived per-section completion state. It is recomputed on
// every call and never stored.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPartial    Status = "partial"
	StatusComplete   Status = "complete"
)

// DefaultNarrativeMin is the minimum number of characters, counted as
// runes, in the trimmed primary narrative before its section counts as
// complete.
const DefaultNarrativeMin = 10

// Evaluate computes a section's completion status and its entry count.
// It is purely advisory for progress display; only the work section's
// result participates in submit gating.
func Evaluate(d *Draft, section Section, narrativeMin int) (Status, int) {
	if narrativeMin <= 0 {
		narrativeMin = DefaultNarrativeMin
	}
	switch section {
	case SectionWork:
		return textStatus(d.Sections.Work, narrativeMin), 0
	case SectionNotes:
		return textStatus(d.Sections.Notes, narrativeMin), 0
	case SectionWeather:
		if strings.TrimSpace(d.Sections.Weather.Condition) != "" {
			return StatusComplete, 0
		}
		return StatusNotStarted, 0
	case SectionSafety:
		s := d.Sections.Safety
		if strings.TrimSpace(s.ToolboxTopic) != "" || strings.TrimSpace(s.PPECompliance) != "" {
			return StatusComplete, 0
		}
		if strings.TrimSpace(s.Observations) != "" || len(s.Photos) > 0 {
			return StatusPartial, 0
		}
		return StatusNotStarted, 0
	default:
		n := len(d.Entries(section))
		if n > 0 {
			return StatusComplete, n
		}
		return StatusNotStarted, 0
	}
}

func textStatus(text string, min int) Status {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return StatusNotStarted
	case utf8.RuneCountInString(trimmed) <= min:
		return StatusPartial
	default:
		return StatusComplete
	}
}

// NarrativeComplete reports whether the primary narrative clears the
// submit gate.
func NarrativeComplete(d *Draft, narrativeMin int) bool {
	st, _ := Evaluate(d, SectionWork, narrativeMin)
	return st == StatusComplete
}
