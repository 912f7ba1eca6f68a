package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/draft"
	"fieldline/internal/draftstore"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
	"fieldline/internal/remote"
	"fieldline/internal/repo"
	"fieldline/internal/server"
	"fieldline/internal/submit"
	"fieldline/internal/wizard"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fieldline CLI",
	Long: `Fieldline drafts and submits daily field reports and inspections.
Core concepts:
- Workspace: your .fieldline directory with the local database; config lives in fieldline.yml.
- Draft: the locally owned working report for one day (or inspection), autosaved as you edit.
- Sections: crew, equipment, materials, subcontractors, quantities, delays, incidents, visitors, weather, safety, work, notes.
- Checks: per-asset inspection results; a defect or attention flag becomes an issue on submit.
- Submit: normalizes the draft and saves it to the backend; offline submissions queue and replay with 'fl queue replay'.
- Review: inspection reports land pending_review until a supervisor accepts or returns them.
- Event log: diary of changes, view with 'fl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("period", "", "report period (YYYY-MM-DD, default today)")
	rootCmd.PersistentFlags().String("flow", "daily", "report flow (daily or inspection)")
	rootCmd.PersistentFlags().String("remote", "", "backend base URL (empty uses the workspace database)")
	rootCmd.PersistentFlags().String("api-key", "", "backend API key")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("period", rootCmd.PersistentFlags().Lookup("period"))
	_ = viper.BindPFlag("flow", rootCmd.PersistentFlags().Lookup("flow"))
	_ = viper.BindPFlag("remote", rootCmd.PersistentFlags().Lookup("remote"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fieldline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show draft progress",
		Long:  "See the current draft's per-section completion, submit gates, and review warnings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				statuses := e.SectionStatuses(d)
				unmet := wizard.SubmitGate(d, e.Config.Report.NarrativeMinChars)
				warnings := e.Warnings(d)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"period_key": d.PeriodKey,
						"flow":       d.Flow,
						"sections":   statuses,
						"unmet":      unmet,
						"warnings":   warnings,
					})
				}
				fmt.Printf("Draft: %s %s (%s)\n", d.ProjectID, d.PeriodKey, d.Flow)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Section", "Status"})
				for _, s := range draft.AllSections {
					tw.AppendRow(table.Row{string(s), string(statuses[s])})
				}
				tw.Render()
				if len(unmet) > 0 {
					fmt.Println("Not submittable:")
					for _, u := range unmet {
						fmt.Printf("  - %s\n", u)
					}
				} else {
					fmt.Println("Submittable.")
				}
				for _, w := range warnings {
					fmt.Printf("Warning: %s\n", w)
				}
				return nil
			})
		},
	}
	return cmd
}

func draftCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "draft",
		Short: "Edit the current draft",
		Long:  "Each subcommand edits one section of the locally owned draft and saves it. Nothing reaches the backend until 'fl submit'.",
	}
	d.AddCommand(draftShowCmd())
	d.AddCommand(draftDiscardCmd())
	d.AddCommand(draftRmCmd())
	d.AddCommand(draftCrewCmd())
	d.AddCommand(draftEquipmentCmd())
	d.AddCommand(draftMaterialCmd())
	d.AddCommand(draftSubCmd())
	d.AddCommand(draftDelayCmd())
	d.AddCommand(draftVisitorCmd())
	d.AddCommand(draftQuantityCmd())
	d.AddCommand(draftWeatherCmd())
	d.AddCommand(draftSafetyCmd())
	d.AddCommand(draftWorkCmd())
	d.AddCommand(draftNotesCmd())
	d.AddCommand(draftPhotoCmd())
	d.AddCommand(draftCertifyCmd())
	return d
}

func draftShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func draftDiscardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discard",
		Short: "Discard the current draft without submitting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				return e.DiscardDraft(ctx, d, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func draftRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <section> <entry-id>",
		Short: "Remove one entry from a list section",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.RemoveEntry(draft.Section(args[0]), args[1])
			})
		},
	}
	return cmd
}

func draftCrewCmd() *cobra.Command {
	var e draft.CrewEntry
	cmd := &cobra.Command{
		Use:   "crew",
		Short: "Add or update a crew entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Company == "" {
				return fmt.Errorf("--company required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id (set to update an existing entry)")
	cmd.Flags().StringVar(&e.Company, "company", "", "crew company")
	cmd.Flags().StringVar(&e.Trade, "trade", "", "trade")
	cmd.Flags().IntVar(&e.Workers, "workers", 0, "worker count")
	cmd.Flags().Float64Var(&e.Hours, "hours", 0, "hours per worker")
	cmd.Flags().StringVar(&e.Notes, "notes", "", "notes")
	return cmd
}

func draftEquipmentCmd() *cobra.Command {
	var e draft.EquipmentEntry
	cmd := &cobra.Command{
		Use:   "equipment",
		Short: "Add or update an equipment entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Name == "" {
				return fmt.Errorf("--name required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Name, "name", "", "equipment name")
	cmd.Flags().IntVar(&e.Count, "count", 1, "unit count")
	cmd.Flags().Float64Var(&e.HoursUsed, "hours-used", 0, "hours used")
	cmd.Flags().BoolVar(&e.Idle, "idle", false, "on site but idle")
	cmd.Flags().StringVar(&e.Notes, "notes", "", "notes")
	return cmd
}

func draftMaterialCmd() *cobra.Command {
	var e draft.MaterialDelivery
	var photos []string
	cmd := &cobra.Command{
		Use:   "material",
		Short: "Add or update a material delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Supplier == "" || e.Material == "" {
				return fmt.Errorf("--supplier and --material required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			e.Photos = photos
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Supplier, "supplier", "", "supplier")
	cmd.Flags().StringVar(&e.Material, "material", "", "material")
	cmd.Flags().Float64Var(&e.Quantity, "quantity", 0, "quantity delivered")
	cmd.Flags().StringVar(&e.Unit, "unit", "", "unit of measure")
	cmd.Flags().StringVar(&e.Time, "time", "", "delivery time (HH:MM)")
	cmd.Flags().StringVar(&e.Notes, "notes", "", "notes")
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference (repeatable)")
	return cmd
}

func draftSubCmd() *cobra.Command {
	var e draft.SubcontractorEntry
	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Add or update a subcontractor entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Company == "" {
				return fmt.Errorf("--company required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Company, "company", "", "subcontractor company")
	cmd.Flags().StringVar(&e.Scope, "scope", "", "scope of work")
	cmd.Flags().IntVar(&e.Workers, "workers", 0, "worker count")
	cmd.Flags().Float64Var(&e.Hours, "hours", 0, "hours per worker")
	cmd.Flags().StringVar(&e.Notes, "notes", "", "notes")
	return cmd
}

func draftDelayCmd() *cobra.Command {
	var e draft.DelayEntry
	cmd := &cobra.Command{
		Use:   "delay",
		Short: "Add or update a delay entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Type == "" || e.Description == "" {
				return fmt.Errorf("--type and --description required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Type, "type", "", "delay type (weather, access, material, other)")
	cmd.Flags().Float64Var(&e.Hours, "hours", 0, "hours lost")
	cmd.Flags().StringVar(&e.Description, "description", "", "description")
	return cmd
}

func draftVisitorCmd() *cobra.Command {
	var e draft.VisitorEntry
	cmd := &cobra.Command{
		Use:   "visitor",
		Short: "Add or update a visitor entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Name == "" {
				return fmt.Errorf("--name required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Name, "name", "", "visitor name")
	cmd.Flags().StringVar(&e.Company, "company", "", "company")
	cmd.Flags().StringVar(&e.Purpose, "purpose", "", "purpose of visit")
	cmd.Flags().StringVar(&e.ArrivedAt, "arrived", "", "arrival time (HH:MM)")
	cmd.Flags().StringVar(&e.LeftAt, "left", "", "departure time (HH:MM)")
	return cmd
}

func draftQuantityCmd() *cobra.Command {
	var e draft.QuantityEntry
	cmd := &cobra.Command{
		Use:   "quantity",
		Short: "Add or update an installed quantity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.Item == "" {
				return fmt.Errorf("--item required")
			}
			if e.ID == "" {
				e.ID = draft.NewEntryID()
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				return d.UpsertEntry(e)
			})
		},
	}
	cmd.Flags().StringVar(&e.ID, "id", "", "entry id")
	cmd.Flags().StringVar(&e.Item, "item", "", "item installed")
	cmd.Flags().Float64Var(&e.Quantity, "quantity", 0, "quantity")
	cmd.Flags().StringVar(&e.Unit, "unit", "", "unit of measure")
	cmd.Flags().StringVar(&e.Location, "location", "", "location")
	return cmd
}

func draftWeatherCmd() *cobra.Command {
	var w draft.Weather
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Set the weather section",
		RunE: func(cmd *cobra.Command, args []string) error {
			if w.Condition == "" {
				return fmt.Errorf("--condition required")
			}
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.SetWeather(w)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&w.Condition, "condition", "", "sky condition (clear, overcast, rain, snow)")
	cmd.Flags().StringVar(&w.TempLow, "temp-low", "", "low temperature")
	cmd.Flags().StringVar(&w.TempHigh, "temp-high", "", "high temperature")
	cmd.Flags().StringVar(&w.Precipitation, "precipitation", "", "precipitation")
	cmd.Flags().StringVar(&w.Wind, "wind", "", "wind")
	cmd.Flags().StringVar(&w.Notes, "notes", "", "notes")
	return cmd
}

func draftSafetyCmd() *cobra.Command {
	var s draft.Safety
	var photos []string
	cmd := &cobra.Command{
		Use:   "safety",
		Short: "Set the safety section",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.Photos = photos
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.SetSafety(s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&s.ToolboxTopic, "toolbox-topic", "", "toolbox talk topic")
	cmd.Flags().StringVar(&s.PPECompliance, "ppe", "", "PPE compliance note")
	cmd.Flags().StringVar(&s.Observations, "observations", "", "observations")
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference (repeatable)")
	return cmd
}

func draftWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work <text>",
		Short: "Set the work performed narrative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.SetWork(args[0])
				return nil
			})
		},
	}
	return cmd
}

func draftNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes <text>",
		Short: "Set general notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.SetNotes(args[0])
				return nil
			})
		},
	}
	return cmd
}

func draftPhotoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo <ref>...",
		Short: "Attach report-level photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.AddPhotos(args...)
				return nil
			})
		},
	}
	return cmd
}

func draftCertifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certify",
		Short: "Certify the draft as accurate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDraft(cmd.Context(), func(d *draft.Draft) error {
				d.SetCertified(true)
				return nil
			})
		},
	}
	return cmd
}

func checkCmd() *cobra.Command {
	chk := &cobra.Command{Use: "check", Short: "Record asset checks"}
	chk.AddCommand(checkRecordCmd())
	chk.AddCommand(checkListCmd())
	return chk
}

func checkRecordCmd() *cobra.Command {
	var c draft.AssetCheck
	var photos []string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one asset check",
		Long:  "Saves the check into the draft and uploads it right away when the backend is reachable; an unreachable backend is not an error, the check ships with the submission.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.AssetID == "" || c.Status == "" {
				return fmt.Errorf("--asset and --status required")
			}
			if c.Status == draft.CheckDefectFound && c.Defect == "" {
				return fmt.Errorf("--defect required when status is defect_found")
			}
			c.Photos = photos
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				return e.RecordCheck(ctx, d, c, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&c.AssetID, "asset", "", "asset id")
	cmd.Flags().StringVar(&c.Name, "name", "", "asset name")
	cmd.Flags().StringVar(&c.Location, "location", "", "asset location")
	cmd.Flags().StringVar(&c.Status, "status", "", "result (ok, needs_attention, defect_found)")
	cmd.Flags().StringVar(&c.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&c.Defect, "defect", "", "defect description")
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference (repeatable)")
	return cmd
}

func checkListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checks recorded in the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				if viper.GetBool("json") {
					return printJSON(d.Checks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Asset", "Name", "Status", "Defect"})
				for _, c := range d.Checks {
					tw.AppendRow(table.Row{c.AssetID, c.Name, c.Status, c.Defect})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the current draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				outcome, err := e.Submit(ctx, d, viper.GetString("actor-id"))
				var gated engine.ErrGated
				if errors.As(err, &gated) {
					fmt.Println("Not submittable:")
					for _, u := range gated.Unmet {
						fmt.Printf("  - %s\n", u)
					}
					return fmt.Errorf("submission gated")
				}
				if err != nil {
					return err
				}
				return printOutcome(outcome)
			})
		},
	}
	return cmd
}

func incidentCmd() *cobra.Command {
	var inc draft.IncidentEntry
	var photos []string
	cmd := &cobra.Command{
		Use:   "incident",
		Short: "Report an incident",
		Long:  "Adds the incident to the draft; with photos attached it also dispatches a severe issue immediately instead of waiting for submission.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inc.Type == "" || inc.Description == "" {
				return fmt.Errorf("--type and --description required")
			}
			inc.Photos = photos
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				outcome, err := e.SubmitIncidentFastPath(ctx, d, inc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if len(photos) == 0 {
					fmt.Println("Incident recorded in draft (no photos, no immediate escalation).")
					return nil
				}
				return printOutcome(outcome)
			})
		},
	}
	cmd.Flags().StringVar(&inc.Type, "type", "", "incident type (injury, near_miss, property_damage, other)")
	cmd.Flags().StringVar(&inc.Time, "time", "", "time of incident (HH:MM)")
	cmd.Flags().StringVar(&inc.Description, "description", "", "description")
	cmd.Flags().BoolVar(&inc.Reported, "reported", false, "already reported to authorities")
	cmd.Flags().StringArrayVar(&photos, "photo", []string{}, "photo reference (repeatable)")
	return cmd
}

func wizardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Fill in the draft step by step",
		Long:  "Interactive entry: weather, work narrative, notes, then review and submit. The draft autosaves while you type; quit any time and pick up where you left off.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraft(cmd.Context(), func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
				interval := time.Duration(e.Config.Report.AutosaveSeconds) * time.Second
				saver := draftstore.New(e.Repo, d, interval)
				saver.Start(ctx)
				defer saver.Stop(context.Background())
				return runWizard(ctx, e, d, bufio.NewScanner(os.Stdin))
			})
		},
	}
	return cmd
}

func runWizard(ctx context.Context, e engine.Engine, d *draft.Draft, in *bufio.Scanner) error {
	m := wizard.NewMachine(d, e.Config.Report.NarrativeMinChars)
	prompt := func(label, current string) string {
		if current != "" {
			fmt.Printf("%s [%s]: ", label, current)
		} else {
			fmt.Printf("%s: ", label)
		}
		if !in.Scan() {
			return current
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			return current
		}
		return text
	}

	w := d.Sections.Weather
	w.Condition = prompt("Weather condition", w.Condition)
	w.TempLow = prompt("Low temperature", w.TempLow)
	w.TempHigh = prompt("High temperature", w.TempHigh)
	d.SetWeather(w)
	if err := m.Advance(wizard.StepAssets); err != nil {
		return err
	}
	fmt.Println("Record asset checks with 'fl check record'; continuing to notes.")
	if err := m.Advance(wizard.StepNotes); err != nil {
		return err
	}
	d.SetWork(prompt("Work performed", d.Sections.Work))
	d.SetNotes(prompt("General notes", d.Sections.Notes))
	if err := m.Advance(wizard.StepReview); err != nil {
		return err
	}

	statuses := e.SectionStatuses(d)
	fmt.Println("Review:")
	for _, s := range draft.AllSections {
		fmt.Printf("  %-14s %s\n", s, statuses[s])
	}
	for _, warn := range e.Warnings(d) {
		fmt.Printf("Warning: %s\n", warn)
	}
	answer := prompt("Certify and submit? (yes/no)", "no")
	if !strings.EqualFold(answer, "yes") {
		fmt.Println("Draft kept; submit later with 'fl submit'.")
		return nil
	}
	d.SetCertified(true)
	outcome, err := e.Submit(ctx, d, viper.GetString("actor-id"))
	if err != nil {
		// The wizard stays at review so a failed submission can be retried.
		return err
	}
	if err := m.Advance(wizard.StepSuccess); err != nil {
		return err
	}
	return printOutcome(outcome)
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Manage queued submissions"}
	q.AddCommand(queueListCmd())
	q.AddCommand(queueReplayCmd())
	return q
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListQueued(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Period", "Queued At", "Attempts", "Last Error"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.PeriodKey, it.QueuedAt, it.Attempts, it.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func queueReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay queued submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ReplayQueue(ctx, viper.GetString("actor-id"))
				if n > 0 {
					fmt.Printf("Replayed %d submission(s).\n", n)
				}
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Println("Nothing replayed.")
				}
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Browse submitted reports"}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportReviewCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Period", "Flow", "Status", "Submitted By"})
				for _, r := range items {
					by := ""
					if r.SubmittedBy != nil {
						by = *r.SubmittedBy
					}
					tw.AppendRow(table.Row{r.ID, r.PeriodKey, r.Flow, r.Status, by})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "report-status", "", "status filter")
	cmd.Flags().StringVar(&f.Flow, "report-flow", "", "flow filter")
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func reportReviewCmd() *cobra.Command {
	var status, note string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Accept or return a pending report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "accepted" && status != "returned" {
				return fmt.Errorf("--status must be accepted or returned")
			}
			if base := viper.GetString("remote"); base != "" {
				client := remote.New(base)
				client.APIKey = viper.GetString("api-key")
				return client.Review(cmd.Context(), args[0], status, note)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.ReviewReport(ctx, tx, rep.ID, status, viper.GetString("actor-id"), now); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "review outcome (accepted or returned)")
	cmd.Flags().StringVar(&note, "note", "", "review note")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Browse issues"}
	iss.AddCommand(issueListCmd())
	return iss
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Severity", "Title", "Status", "Assignee"})
				for _, it := range items {
					assignee := ""
					if it.AssigneeID != nil {
						assignee = *it.AssigneeID
					}
					tw.AppendRow(table.Row{it.ID, it.Severity, it.Title, it.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.ReportID, "report", "", "report id filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&f.Status, "issue-status", "", "status filter")
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage the team directory"}
	team.AddCommand(teamAddCmd())
	team.AddCommand(teamListCmd())
	team.AddCommand(teamDeactivateCmd())
	return team
}

func teamAddCmd() *cobra.Command {
	var m domain.TeamMember
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a team member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if m.Name == "" || m.Role == "" {
				return fmt.Errorf("--name and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if m.ProjectID == "" {
					m.ProjectID = e.Config.Project.ID
				}
				m.Active = true
				stored, err := e.Repo.AddTeamMember(ctx, m)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&m.ID, "id", "", "member id (optional)")
	cmd.Flags().StringVar(&m.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&m.Name, "name", "", "name")
	cmd.Flags().StringVar(&m.Role, "role", "", "role (manager, foreman, inspector)")
	return cmd
}

func teamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTeamMembers(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Role, it.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func teamDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetTeamMemberActive(ctx, args[0], false)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage backend API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Long:  "Prints the key once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			secret := uuid.New().String() + uuid.New().String()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				err := r.InsertAPIKey(ctx, domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				})
				if err != nil {
					return err
				}
				fmt.Printf("API key (save it now, it is not stored): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the backend HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, engine.LocalStore{Repo: repo.Repo{DB: conn}})
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FIELDLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FIELDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fieldline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	var store submit.RecordStore = engine.LocalStore{Repo: repo.Repo{DB: conn}}
	if base := viper.GetString("remote"); base != "" {
		client := remote.New(base)
		client.APIKey = viper.GetString("api-key")
		store = client
	}
	e := engine.New(conn, cfg, store)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// withDraft opens the engine and the current draft, runs fn, then saves the
// draft unless it was disposed of.
func withDraft(ctx context.Context, fn func(context.Context, engine.Engine, *draft.Draft) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		d, restored, err := e.OpenDraft(ctx, periodKey(), draft.Flow(viper.GetString("flow")), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		if restored && !viper.GetBool("json") {
			fmt.Printf("Restored draft from %s.\n", d.UpdatedAt)
		}
		return fn(ctx, e, d)
	})
}

// editDraft applies one mutation and persists the draft.
func editDraft(ctx context.Context, mutate func(*draft.Draft) error) error {
	return withDraft(ctx, func(ctx context.Context, e engine.Engine, d *draft.Draft) error {
		if err := mutate(d); err != nil {
			return err
		}
		if err := e.SaveDraft(ctx, d); err != nil {
			return err
		}
		return printJSONOrTable(d)
	})
}

func periodKey() string {
	if p := viper.GetString("period"); p != "" {
		return p
	}
	return time.Now().Format("2006-01-02")
}

func printOutcome(outcome submit.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(outcome)
	}
	switch outcome.Status {
	case submit.OutcomeSuccess:
		fmt.Println("Submitted.")
	case submit.OutcomeQueued:
		fmt.Println(outcome.Message)
	default:
		fmt.Printf("Submission failed (%s): %s\n", outcome.State, outcome.Message)
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
