package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/reconcile"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/store"
	"github.com/tallyapp/tally/internal/ui"
)

var habitCmd = &cobra.Command{
	Use:     "habit",
	GroupID: "habits",
	Short:   "Manage habits",
}

var (
	addName   string
	addType   string
	addTarget float64
	addUnit   string
	addSteps  []string
)

var habitAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new habit",
	Long: `Create a habit. With no flags, an interactive form prompts for the
details. The habit is written to the local store immediately and queued
for remote sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		if addName == "" {
			if err := promptHabit(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		habit := &schema.Habit{
			ID:           uuid.NewString(),
			OwnerID:      cfg.OwnerID,
			Name:         addName,
			TrackingType: schema.TrackingType(addType),
			TargetValue:  addTarget,
			Unit:         addUnit,
			Steps:        addSteps,
			Active:       true,
			LastUpdated:  time.Now().UTC(),
		}

		ctx := cmd.Context()
		if err := st.PutHabitTracked(ctx, habit); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving habit: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created habit %q (%s)\n", ui.RenderPass("✓"), habit.Name, habit.TrackingType)
		attemptImmediateSync(ctx, cfg, st)
	},
}

// promptHabit fills the add flags from an interactive form.
func promptHabit() error {
	var stepsRaw string
	var targetRaw string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Habit name").
				Value(&addName).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Tracking type").
				Options(
					huh.NewOption("Binary (done / not done)", string(schema.TrackingBinary)),
					huh.NewOption("Numeric (measured value)", string(schema.TrackingNumeric)),
					huh.NewOption("Progress (ordered steps)", string(schema.TrackingProgress)),
				).
				Value(&addType),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Daily target (number, empty for any)").
				Value(&targetRaw),
			huh.NewInput().
				Title("Unit (e.g. minutes, pages)").
				Value(&addUnit),
		).WithHideFunc(func() bool { return addType != string(schema.TrackingNumeric) }),
		huh.NewGroup(
			huh.NewInput().
				Title("Steps (comma-separated)").
				Value(&stepsRaw),
		).WithHideFunc(func() bool { return addType != string(schema.TrackingProgress) }),
	)

	if err := form.Run(); err != nil {
		return err
	}

	if targetRaw != "" {
		target, err := strconv.ParseFloat(strings.TrimSpace(targetRaw), 64)
		if err != nil {
			return fmt.Errorf("invalid target value: %q", targetRaw)
		}
		addTarget = target
	}
	if stepsRaw != "" {
		for _, s := range strings.Split(stepsRaw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				addSteps = append(addSteps, s)
			}
		}
	}
	return nil
}

var habitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List habits (merged local + remote view)",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		merger := reconcile.New(st, remoteLister(cfg), nil, nil)
		habits, err := merger.MergedHabits(cmd.Context(), cfg.OwnerID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing habits: %v\n", err)
			os.Exit(1)
		}

		if len(habits) == 0 {
			fmt.Println("No habits yet. Create one with 'tally habit add'.")
			return
		}

		today := schema.DateKey(time.Now())
		for _, h := range habits {
			marker := "·"
			if h.CompletedOn(today) {
				marker = ui.RenderPass("✓")
			}
			var tags []string
			if h.PendingSync {
				tags = append(tags, "pending sync")
			}
			if h.LocalOnly {
				tags = append(tags, "offline-only")
			}
			tagStr := ""
			if len(tags) > 0 {
				tagStr = " " + ui.RenderMuted("["+strings.Join(tags, ", ")+"]")
			}
			fmt.Printf("  %s %s %s%s\n", marker, h.Name,
				ui.RenderMuted("("+string(h.TrackingType)+")"), tagStr)
		}
	},
}

var habitDeleteCmd = &cobra.Command{
	Use:   "delete <habit>",
	Short: "Delete a habit",
	Long: `Delete a habit by name or id. The habit disappears from views
immediately; the remote copy is removed once the deletion syncs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		ctx := cmd.Context()
		habit, err := resolveHabit(ctx, st, cfg.OwnerID, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := st.DeleteHabitTracked(ctx, habit.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting habit: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted %q\n", ui.RenderPass("✓"), habit.Name)
		attemptImmediateSync(ctx, cfg, st)
	},
}

// resolveHabit finds a habit by exact id or case-insensitive name.
func resolveHabit(ctx context.Context, st *store.Store, ownerID, arg string) (*schema.Habit, error) {
	if h, err := st.GetHabit(ctx, arg); err == nil && !h.Deleted {
		return h, nil
	}

	habits, err := st.ListHabits(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var match *schema.Habit
	for _, h := range habits {
		if h.Deleted {
			continue
		}
		if strings.EqualFold(h.Name, arg) {
			if match != nil {
				return nil, fmt.Errorf("habit name %q is ambiguous, use the id", arg)
			}
			match = h
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no habit matching %q", arg)
	}
	return match, nil
}

func init() {
	habitAddCmd.Flags().StringVar(&addName, "name", "", "habit name")
	habitAddCmd.Flags().StringVar(&addType, "type", string(schema.TrackingBinary), "tracking type: binary, numeric, progress")
	habitAddCmd.Flags().Float64Var(&addTarget, "target", 0, "daily target value (numeric habits)")
	habitAddCmd.Flags().StringVar(&addUnit, "unit", "", "unit label (numeric habits)")
	habitAddCmd.Flags().StringSliceVar(&addSteps, "steps", nil, "ordered step labels (progress habits)")

	habitCmd.AddCommand(habitAddCmd, habitListCmd, habitDeleteCmd)
	rootCmd.AddCommand(habitCmd)
}
