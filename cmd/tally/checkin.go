package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/ui"
)

var (
	checkinDate  string
	checkinValue float64
	checkinSteps []int
	checkinUndo  bool
)

var checkinCmd = &cobra.Command{
	Use:     "checkin <habit>",
	GroupID: "habits",
	Short:   "Record today's check-in for a habit",
	Long: `Record a check-in. The date accepts natural language ("yesterday",
"last monday") as well as YYYY-MM-DD. The check-in is durable locally
before any sync is attempted.

Examples:
  tally checkin meditate
  tally checkin "read" --value 45
  tally checkin stretch --steps 1,2 --date yesterday
  tally checkin meditate --undo`,
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

		date, err := parseDate(checkinDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ci, err := buildCheckIn(habit, cmd.Flags().Changed("value"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		updated, err := st.RecordCheckIn(ctx, habit.ID, date, ci)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error recording check-in: %v\n", err)
			os.Exit(1)
		}

		if updated.CompletedOn(date) {
			fmt.Printf("%s %s completed for %s\n", ui.RenderPass("✓"), updated.Name, date)
		} else {
			fmt.Printf("%s Recorded %s for %s\n", ui.RenderAccent("·"), updated.Name, date)
		}
		attemptImmediateSync(ctx, cfg, st)
	},
}

// parseDate resolves a date argument, accepting YYYY-MM-DD or natural
// language. Empty means today.
func parseDate(arg string) (string, error) {
	if arg == "" {
		return schema.DateKey(time.Now()), nil
	}
	if t, err := time.Parse(schema.DateLayout, arg); err == nil {
		return schema.DateKey(t), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(arg, time.Now())
	if err != nil {
		return "", fmt.Errorf("could not parse date %q: %w", arg, err)
	}
	if r == nil {
		return "", fmt.Errorf("could not parse date %q", arg)
	}
	return schema.DateKey(r.Time), nil
}

// buildCheckIn builds the value for the habit's tracking type from the
// command flags. valueSet distinguishes an explicit --value 0 from the flag
// being absent.
func buildCheckIn(habit *schema.Habit, valueSet bool) (schema.CheckIn, error) {
	now := time.Now().UTC()

	switch habit.TrackingType {
	case schema.TrackingBinary:
		return schema.CheckIn{Done: !checkinUndo, Timestamp: now}, nil

	case schema.TrackingNumeric:
		if checkinUndo {
			return schema.CheckIn{Value: 0, Timestamp: now}, nil
		}
		if !valueSet {
			return schema.CheckIn{}, fmt.Errorf("numeric habit requires --value")
		}
		return schema.CheckIn{Value: checkinValue, Timestamp: now}, nil

	case schema.TrackingProgress:
		steps := make([]bool, len(habit.Steps))
		if !checkinUndo {
			if len(checkinSteps) == 0 {
				// No step numbers means everything done.
				for i := range steps {
					steps[i] = true
				}
			}
			for _, n := range checkinSteps {
				if n < 1 || n > len(steps) {
					return schema.CheckIn{}, fmt.Errorf("step %d out of range (habit has %d steps)", n, len(steps))
				}
				steps[n-1] = true
			}
		}
		return schema.CheckIn{Steps: steps, Timestamp: now}, nil

	default:
		return schema.CheckIn{}, fmt.Errorf("unknown tracking type %q", habit.TrackingType)
	}
}

func init() {
	checkinCmd.Flags().StringVar(&checkinDate, "date", "", `check-in date ("2024-01-15", "yesterday"; default today)`)
	checkinCmd.Flags().Float64Var(&checkinValue, "value", 0, "recorded value (numeric habits)")
	checkinCmd.Flags().IntSliceVar(&checkinSteps, "steps", nil, "completed step numbers (progress habits; default all)")
	checkinCmd.Flags().BoolVar(&checkinUndo, "undo", false, "clear the check-in for the date")

	rootCmd.AddCommand(checkinCmd)
}
