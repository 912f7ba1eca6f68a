package domain

type Report struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	PeriodKey   string  `json:"period_key"`
	Flow        string  `json:"flow" enum:"daily,inspection"`
	Status      string  `json:"status" enum:"draft,submitted,pending_review,accepted,returned"`
	BodyJSON    *string `json:"body_json,omitempty"`
	SubmittedBy *string `json:"submitted_by,omitempty"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewedAt  *string `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// ReportCheck is a per-asset inspection result, addressable by
// (report_id, asset_id) so repeated saves upsert the same row.
type ReportCheck struct {
	ReportID   string  `json:"report_id"`
	AssetID    string  `json:"asset_id"`
	AssetName  string  `json:"asset_name"`
	Location   string  `json:"location,omitempty"`
	Status     string  `json:"status" enum:"unset,ok,needs_attention,defect_found"`
	Notes      string  `json:"notes,omitempty"`
	Defect     string  `json:"defect,omitempty"`
	PhotosJSON *string `json:"photos_json,omitempty"`
	RecordedBy string  `json:"recorded_by"`
	RecordedAt string  `json:"recorded_at" format:"date-time"`
}

type Issue struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	ReportID    string  `json:"report_id"`
	SourceRef   string  `json:"source_ref"`
	Severity    string  `json:"severity" enum:"moderate,severe"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Status      string  `json:"status" enum:"open,in_progress,resolved"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// QueuedSubmission is one pending submission intent awaiting connectivity.
type QueuedSubmission struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	PeriodKey  string `json:"period_key"`
	IntentJSON string `json:"intent_json"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	QueuedAt   string `json:"queued_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
