package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fieldline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Report struct {
		NarrativeMinChars int `yaml:"narrative_min_chars"`
		AutosaveSeconds   int `yaml:"autosave_seconds"`
		Sections          map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"sections"`
	} `yaml:"report"`
	Escalation struct {
		Severity       map[string]string `yaml:"severity"`
		AssigneeRole   string            `yaml:"assignee_role"`
		IncidentPhotos bool              `yaml:"incident_photos"`
	} `yaml:"escalation"`
	Warnings struct {
		LateVisitorHour int `yaml:"late_visitor_hour"`
	} `yaml:"warnings"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with fl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "field-reporting" {
		return fmt.Errorf("config.project.kind must be 'field-reporting'")
	}
	if c.Report.NarrativeMinChars <= 0 {
		return fmt.Errorf("config.report.narrative_min_chars must be positive")
	}
	if c.Report.AutosaveSeconds <= 0 {
		return fmt.Errorf("config.report.autosave_seconds must be positive")
	}
	if len(c.Escalation.Severity) == 0 {
		return fmt.Errorf("config.escalation.severity is required")
	}
	for status, sev := range c.Escalation.Severity {
		if status == "" {
			return fmt.Errorf("config.escalation.severity contains empty check status")
		}
		if sev != "moderate" && sev != "severe" {
			return fmt.Errorf("severity for %s must be moderate or severe, got %s", status, sev)
		}
	}
	if c.Escalation.AssigneeRole == "" {
		return fmt.Errorf("config.escalation.assignee_role is required")
	}
	if c.Warnings.LateVisitorHour < 0 || c.Warnings.LateVisitorHour > 23 {
		return fmt.Errorf("config.warnings.late_visitor_hour must be an hour of day")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "field-reporting"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: field-reporting

report:
  narrative_min_chars: 10
  autosave_seconds: 30
  sections:
    weather:
      description: "Site conditions at start of shift"
    work:
      description: "Work performed (primary narrative)"
    crew:
      description: "Own crews on site"
    equipment:
      description: "Equipment on site and hours used"
    materials:
      description: "Material deliveries"
    subcontractors:
      description: "Subcontractor crews and scope"
    quantities:
      description: "Installed quantities"
    delays:
      description: "Delays and lost time"
    incidents:
      description: "Incidents and near misses"
    visitors:
      description: "Visitor log"
    safety:
      description: "Toolbox talk and PPE compliance"
    notes:
      description: "General notes"

escalation:
  severity:
    defect_found: severe
    needs_attention: moderate
  assignee_role: manager
  incident_photos: true

warnings:
  late_visitor_hour: 18
`
