package draft

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flow distinguishes the two report shapes sharing the pipeline.
type Flow string

const (
	FlowDaily      Flow = "daily"
	FlowInspection Flow = "inspection"
)

type Section string

const (
	SectionCrew           Section = "crew"
	SectionEquipment      Section = "equipment"
	SectionMaterials      Section = "materials"
	SectionSubcontractors Section = "subcontractors"
	SectionIncidents      Section = "incidents"
	SectionDelays         Section = "delays"
	SectionVisitors       Section = "visitors"
	SectionQuantities     Section = "quantities"
	SectionWork           Section = "work"
	SectionNotes          Section = "notes"
	SectionWeather        Section = "weather"
	SectionSafety         Section = "safety"
)

// Sections lists every section in display order.
var AllSections = []Section{
	SectionWeather, SectionWork, SectionCrew, SectionEquipment,
	SectionMaterials, SectionSubcontractors, SectionQuantities,
	SectionDelays, SectionIncidents, SectionVisitors,
	SectionSafety, SectionNotes,
}

// Entry is one list item inside a section. Entries are independent of each
// other; their only invariant is a stable ID unique within the section.
type Entry interface {
	EntryID() string
	Section() Section
}

type CrewEntry struct {
	ID      string  `json:"id"`
	Company string  `json:"company"`
	Trade   string  `json:"trade,omitempty"`
	Workers int     `json:"workers"`
	Hours   float64 `json:"hours"`
	Notes   string  `json:"notes,omitempty"`
}

func (e CrewEntry) EntryID() string  { return e.ID }
func (e CrewEntry) Section() Section { return SectionCrew }

type EquipmentEntry struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	HoursUsed float64 `json:"hours_used,omitempty"`
	Idle      bool    `json:"idle,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

func (e EquipmentEntry) EntryID() string  { return e.ID }
func (e EquipmentEntry) Section() Section { return SectionEquipment }

type MaterialDelivery struct {
	ID       string   `json:"id"`
	Supplier string   `json:"supplier"`
	Material string   `json:"material"`
	Quantity float64  `json:"quantity"`
	Unit     string   `json:"unit,omitempty"`
	Time     string   `json:"time,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Photos   []string `json:"photos,omitempty"`
}

func (e MaterialDelivery) EntryID() string  { return e.ID }
func (e MaterialDelivery) Section() Section { return SectionMaterials }

type SubcontractorEntry struct {
	ID      string  `json:"id"`
	Company string  `json:"company"`
	Scope   string  `json:"scope,omitempty"`
	Workers int     `json:"workers"`
	Hours   float64 `json:"hours,omitempty"`
	Notes   string  `json:"notes,omitempty"`
}

func (e SubcontractorEntry) EntryID() string  { return e.ID }
func (e SubcontractorEntry) Section() Section { return SectionSubcontractors }

type IncidentEntry struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Time        string   `json:"time,omitempty"`
	Description string   `json:"description"`
	Reported    bool     `json:"reported,omitempty"`
	Photos      []string `json:"photos,omitempty"`
}

func (e IncidentEntry) EntryID() string  { return e.ID }
func (e IncidentEntry) Section() Section { return SectionIncidents }

type DelayEntry struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Hours       float64 `json:"hours,omitempty"`
	Description string  `json:"description"`
}

func (e DelayEntry) EntryID() string  { return e.ID }
func (e DelayEntry) Section() Section { return SectionDelays }

type VisitorEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Company   string `json:"company,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	ArrivedAt string `json:"arrived_at,omitempty"`
	LeftAt    string `json:"left_at,omitempty"`
}

func (e VisitorEntry) EntryID() string  { return e.ID }
func (e VisitorEntry) Section() Section { return SectionVisitors }

type QuantityEntry struct {
	ID       string  `json:"id"`
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
}

func (e QuantityEntry) EntryID() string  { return e.ID }
func (e QuantityEntry) Section() Section { return SectionQuantities }

// Weather is a structured single-object section; Condition is its
// designated required field.
type Weather struct {
	Condition     string `json:"condition"`
	TempLow       string `json:"temp_low,omitempty"`
	TempHigh      string `json:"temp_high,omitempty"`
	Precipitation string `json:"precipitation,omitempty"`
	Wind          string `json:"wind,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Safety is a structured single-object section; complete when either the
// toolbox talk topic or the PPE compliance note is filled in.
type Safety struct {
	ToolboxTopic  string   `json:"toolbox_topic,omitempty"`
	PPECompliance string   `json:"ppe_compliance,omitempty"`
	Observations  string   `json:"observations,omitempty"`
	Photos        []string `json:"photos,omitempty"`
}

// AssetCheck is the working copy of one per-asset inspection item.
type AssetCheck struct {
	AssetID  string   `json:"asset_id"`
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	Status   string   `json:"status" enum:"unset,ok,needs_attention,defect_found"`
	Notes    string   `json:"notes,omitempty"`
	Defect   string   `json:"defect,omitempty"`
	Photos   []string `json:"photos,omitempty"`
}

const (
	CheckUnset          = "unset"
	CheckOK             = "ok"
	CheckNeedsAttention = "needs_attention"
	CheckDefectFound    = "defect_found"
)

// Sections holds every section's entries as typed lists so the payload
// builder folds them exhaustively at compile time.
type Sections struct {
	Crew           []CrewEntry          `json:"crew,omitempty"`
	Equipment      []EquipmentEntry     `json:"equipment,omitempty"`
	Materials      []MaterialDelivery   `json:"materials,omitempty"`
	Subcontractors []SubcontractorEntry `json:"subcontractors,omitempty"`
	Incidents      []IncidentEntry      `json:"incidents,omitempty"`
	Delays         []DelayEntry         `json:"delays,omitempty"`
	Visitors       []VisitorEntry       `json:"visitors,omitempty"`
	Quantities     []QuantityEntry      `json:"quantities,omitempty"`
	Work           string               `json:"work,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	Photos         []string             `json:"photos,omitempty"`
	Weather        Weather              `json:"weather"`
	Safety         Safety               `json:"safety"`
}

// Draft is the locally owned working state for one in-progress report,
// keyed by (project, period). It is never shared between sessions.
type Draft struct {
	ProjectID string       `json:"project_id"`
	PeriodKey string       `json:"period_key"`
	Flow      Flow         `json:"flow"`
	Sections  Sections     `json:"sections"`
	Checks    []AssetCheck `json:"checks,omitempty"`
	Certified bool         `json:"certified,omitempty"`
	UpdatedAt string       `json:"updated_at"`

	onChange func()
}

var ErrEntryNotFound = errors.New("entry not found")

// New returns an empty draft for the given identity.
func New(projectID, periodKey string, flow Flow) *Draft {
	return &Draft{ProjectID: projectID, PeriodKey: periodKey, Flow: flow}
}

// Key is the persistence key; it incorporates entity and period so drafts
// for different days or projects never collide.
func Key(projectID, periodKey string) string {
	return projectID + "@" + periodKey
}

func (d *Draft) Key() string { return Key(d.ProjectID, d.PeriodKey) }

// OnChange registers the draft-changed listener (the autosaver).
func (d *Draft) OnChange(fn func()) { d.onChange = fn }

func (d *Draft) touch() {
	d.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if d.onChange != nil {
		d.onChange()
	}
}

// NewEntryID mints an identifier for a new list entry.
func NewEntryID() string { return uuid.New().String() }

// UpsertEntry inserts or replaces one list entry by ID within its section.
func (d *Draft) UpsertEntry(e Entry) error {
	if e.EntryID() == "" {
		return errors.New("entry id required")
	}
	switch v := e.(type) {
	case CrewEntry:
		d.Sections.Crew = upsert(d.Sections.Crew, v)
	case EquipmentEntry:
		d.Sections.Equipment = upsert(d.Sections.Equipment, v)
	case MaterialDelivery:
		d.Sections.Materials = upsert(d.Sections.Materials, v)
	case SubcontractorEntry:
		d.Sections.Subcontractors = upsert(d.Sections.Subcontractors, v)
	case IncidentEntry:
		d.Sections.Incidents = upsert(d.Sections.Incidents, v)
	case DelayEntry:
		d.Sections.Delays = upsert(d.Sections.Delays, v)
	case VisitorEntry:
		d.Sections.Visitors = upsert(d.Sections.Visitors, v)
	case QuantityEntry:
		d.Sections.Quantities = upsert(d.Sections.Quantities, v)
	default:
		return fmt.Errorf("section %s does not hold list entries", e.Section())
	}
	d.touch()
	return nil
}

func upsert[T Entry](list []T, e T) []T {
	for i := range list {
		if list[i].EntryID() == e.EntryID() {
			list[i] = e
			return list
		}
	}
	return append(list, e)
}

// RemoveEntry deletes one list entry by ID from a section.
func (d *Draft) RemoveEntry(section Section, id string) error {
	removed := false
	switch section {
	case SectionCrew:
		d.Sections.Crew, removed = remove(d.Sections.Crew, id)
	case SectionEquipment:
		d.Sections.Equipment, removed = remove(d.Sections.Equipment, id)
	case SectionMaterials:
		d.Sections.Materials, removed = remove(d.Sections.Materials, id)
	case SectionSubcontractors:
		d.Sections.Subcontractors, removed = remove(d.Sections.Subcontractors, id)
	case SectionIncidents:
		d.Sections.Incidents, removed = remove(d.Sections.Incidents, id)
	case SectionDelays:
		d.Sections.Delays, removed = remove(d.Sections.Delays, id)
	case SectionVisitors:
		d.Sections.Visitors, removed = remove(d.Sections.Visitors, id)
	case SectionQuantities:
		d.Sections.Quantities, removed = remove(d.Sections.Quantities, id)
	default:
		return fmt.Errorf("section %s does not hold list entries", section)
	}
	if !removed {
		return ErrEntryNotFound
	}
	d.touch()
	return nil
}

func remove[T Entry](list []T, id string) ([]T, bool) {
	for i := range list {
		if list[i].EntryID() == id {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

// Entries returns a section's list in edit order.
func (d *Draft) Entries(section Section) []Entry {
	var out []Entry
	switch section {
	case SectionCrew:
		for _, e := range d.Sections.Crew {
			out = append(out, e)
		}
	case SectionEquipment:
		for _, e := range d.Sections.Equipment {
			out = append(out, e)
		}
	case SectionMaterials:
		for _, e := range d.Sections.Materials {
			out = append(out, e)
		}
	case SectionSubcontractors:
		for _, e := range d.Sections.Subcontractors {
			out = append(out, e)
		}
	case SectionIncidents:
		for _, e := range d.Sections.Incidents {
			out = append(out, e)
		}
	case SectionDelays:
		for _, e := range d.Sections.Delays {
			out = append(out, e)
		}
	case SectionVisitors:
		for _, e := range d.Sections.Visitors {
			out = append(out, e)
		}
	case SectionQuantities:
		for _, e := range d.Sections.Quantities {
			out = append(out, e)
		}
	}
	return out
}

// SetWeather replaces the weather section object.
func (d *Draft) SetWeather(w Weather) {
	d.Sections.Weather = w
	d.touch()
}

// SetSafety replaces the safety section object.
func (d *Draft) SetSafety(s Safety) {
	d.Sections.Safety = s
	d.touch()
}

// SetWork sets the primary narrative.
func (d *Draft) SetWork(text string) {
	d.Sections.Work = text
	d.touch()
}

// SetNotes sets the general notes text.
func (d *Draft) SetNotes(text string) {
	d.Sections.Notes = text
	d.touch()
}

// AddPhotos appends report-level photo references.
func (d *Draft) AddPhotos(refs ...string) {
	d.Sections.Photos = append(d.Sections.Photos, refs...)
	d.touch()
}

// SetCertified records the review-step acknowledgement flag.
func (d *Draft) SetCertified(v bool) {
	d.Certified = v
	d.touch()
}

// UpsertCheck inserts or replaces one asset check by asset id.
func (d *Draft) UpsertCheck(c AssetCheck) error {
	if c.AssetID == "" {
		return errors.New("asset id required")
	}
	if c.Status == "" {
		c.Status = CheckUnset
	}
	for i := range d.Checks {
		if d.Checks[i].AssetID == c.AssetID {
			d.Checks[i] = c
			d.touch()
			return nil
		}
	}
	d.Checks = append(d.Checks, c)
	d.touch()
	return nil
}

// Check returns one asset check by asset id.
func (d *Draft) Check(assetID string) (AssetCheck, error) {
	for _, c := range d.Checks {
		if c.AssetID == assetID {
			return c, nil
		}
	}
	return AssetCheck{}, ErrEntryNotFound
}
