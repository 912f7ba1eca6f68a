// Package payload folds a draft's heterogeneous sections into one
// normalized report record. Build is a pure function of the draft: no
// clocks, no generated ids, stable entry order, so two runs over the same
// draft produce byte-identical output and a retried submission upserts
// rather than diverges.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"fieldline/internal/draft"
)

// NormalizedReport is the canonical record written to the parent report at
// submission time. Fields are omitted entirely when their source section is
// empty; consumers never see placeholder sentences.
type NormalizedReport struct {
	ProjectID string `json:"project_id"`
	PeriodKey string `json:"period_key"`
	Flow      string `json:"flow"`

	TotalWorkers  int     `json:"total_workers,omitempty"`
	TotalManHours float64 `json:"total_man_hours,omitempty"`

	WorkPerformed    string `json:"work_performed,omitempty"`
	GeneralNotes     string `json:"general_notes,omitempty"`
	CrewSummary      string `json:"crew_summary,omitempty"`
	EquipmentSummary string `json:"equipment_summary,omitempty"`
	MaterialSummary  string `json:"material_summary,omitempty"`
	QuantitySummary  string `json:"quantity_summary,omitempty"`
	DelaySummary     string `json:"delay_summary,omitempty"`
	IncidentSummary  string `json:"incident_summary,omitempty"`

	Subcontractors []draft.SubcontractorEntry `json:"subcontractors,omitempty"`
	VisitorLog     []draft.VisitorEntry       `json:"visitor_log,omitempty"`

	Weather *draft.Weather `json:"weather,omitempty"`
	Safety  *draft.Safety  `json:"safety,omitempty"`

	Photos []string `json:"photos,omitempty"`

	ChecksTotal int `json:"checks_total,omitempty"`
	ChecksOK    int `json:"checks_ok,omitempty"`
	Defects     int `json:"defects,omitempty"`
}

// Build assembles the normalized record from the full draft.
func Build(d *draft.Draft) NormalizedReport {
	s := d.Sections
	n := NormalizedReport{
		ProjectID: d.ProjectID,
		PeriodKey: d.PeriodKey,
		Flow:      string(d.Flow),
	}

	for _, c := range s.Crew {
		n.TotalWorkers += c.Workers
		n.TotalManHours += float64(c.Workers) * c.Hours
	}
	if len(s.Crew) == 0 {
		for _, sub := range s.Subcontractors {
			n.TotalWorkers += sub.Workers
		}
	}

	n.WorkPerformed = strings.TrimSpace(s.Work)
	n.GeneralNotes = strings.TrimSpace(s.Notes)

	n.CrewSummary = joinLines(s.Crew, func(c draft.CrewEntry) string {
		label := c.Company
		if c.Trade != "" {
			label = fmt.Sprintf("%s (%s)", c.Company, c.Trade)
		}
		return fmt.Sprintf("%s: %d workers, %gh", label, c.Workers, c.Hours)
	})
	n.EquipmentSummary = joinLines(s.Equipment, func(e draft.EquipmentEntry) string {
		line := fmt.Sprintf("%dx %s", e.Count, e.Name)
		if e.Idle {
			line += " (idle)"
		} else if e.HoursUsed > 0 {
			line += fmt.Sprintf(", %gh used", e.HoursUsed)
		}
		return line
	})
	n.MaterialSummary = joinLines(s.Materials, func(m draft.MaterialDelivery) string {
		return fmt.Sprintf("%g %s %s from %s", m.Quantity, m.Unit, m.Material, m.Supplier)
	})
	n.QuantitySummary = joinLines(s.Quantities, func(q draft.QuantityEntry) string {
		line := fmt.Sprintf("%s: %g %s", q.Item, q.Quantity, q.Unit)
		if q.Location != "" {
			line += " at " + q.Location
		}
		return line
	})
	n.DelaySummary = joinLines(s.Delays, func(dl draft.DelayEntry) string {
		return fmt.Sprintf("%s: %s", dl.Type, dl.Description)
	})
	n.IncidentSummary = joinLines(s.Incidents, func(i draft.IncidentEntry) string {
		if i.Time != "" {
			return fmt.Sprintf("%s at %s: %s", i.Type, i.Time, i.Description)
		}
		return fmt.Sprintf("%s: %s", i.Type, i.Description)
	})

	// Tabular sections keep their structure; consumers need the columns.
	if len(s.Subcontractors) > 0 {
		n.Subcontractors = append([]draft.SubcontractorEntry(nil), s.Subcontractors...)
	}
	if len(s.Visitors) > 0 {
		n.VisitorLog = append([]draft.VisitorEntry(nil), s.Visitors...)
	}

	if strings.TrimSpace(s.Weather.Condition) != "" {
		w := s.Weather
		n.Weather = &w
	}
	if !safetyEmpty(s.Safety) {
		sf := s.Safety
		n.Safety = &sf
	}

	n.Photos = collectPhotos(d)

	for _, c := range d.Checks {
		if c.Status == draft.CheckUnset {
			continue
		}
		n.ChecksTotal++
		switch c.Status {
		case draft.CheckOK:
			n.ChecksOK++
		case draft.CheckDefectFound:
			n.Defects++
		}
	}
	return n
}

// Marshal renders the record as canonical JSON for the parent body.
func Marshal(n NormalizedReport) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal normalized report: %w", err)
	}
	return string(b), nil
}

func joinLines[T any](items []T, line func(T) string) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, line(it))
	}
	return strings.Join(parts, "\n")
}

// collectPhotos flattens photo references across every section that carries
// them, in section order, preserving per-entry copies in the structured data.
func collectPhotos(d *draft.Draft) []string {
	var out []string
	out = append(out, d.Sections.Photos...)
	for _, m := range d.Sections.Materials {
		out = append(out, m.Photos...)
	}
	for _, i := range d.Sections.Incidents {
		out = append(out, i.Photos...)
	}
	out = append(out, d.Sections.Safety.Photos...)
	for _, c := range d.Checks {
		out = append(out, c.Photos...)
	}
	return out
}

func safetyEmpty(s draft.Safety) bool {
	return s.ToolboxTopic == "" && s.PPECompliance == "" && s.Observations == "" && len(s.Photos) == 0
}
