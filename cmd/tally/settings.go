package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/store"
	"github.com/tallyapp/tally/internal/ui"
)

var (
	setReminder  int
	setWeekStart string
	setTheme     string
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "habits",
	Short:   "Show or change user settings",
	Long: `Show the stored settings document. Passing any --set flag updates it;
the change is durable locally and queued for remote sync like any other
write.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		ctx := cmd.Context()

		settings, err := st.GetSettings(ctx, cfg.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			settings = &schema.UserSettings{OwnerID: cfg.OwnerID, ReminderHour: 9}
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		changed := false
		if cmd.Flags().Changed("reminder-hour") {
			settings.ReminderHour = setReminder
			changed = true
		}
		if cmd.Flags().Changed("week-start") {
			settings.WeekStart = setWeekStart
			changed = true
		}
		if cmd.Flags().Changed("theme") {
			settings.Theme = setTheme
			changed = true
		}

		if changed {
			settings.LastUpdated = time.Now().UTC()
			if err := st.PutSettingsTracked(ctx, settings); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Settings updated\n", ui.RenderPass("✓"))
			attemptImmediateSync(ctx, cfg, st)
			return
		}

		fmt.Printf("Reminder hour: %d:00\n", settings.ReminderHour)
		if settings.WeekStart != "" {
			fmt.Printf("Week starts:   %s\n", settings.WeekStart)
		}
		if settings.Theme != "" {
			fmt.Printf("Theme:         %s\n", settings.Theme)
		}
	},
}

func init() {
	settingsCmd.Flags().IntVar(&setReminder, "reminder-hour", 9, "daily reminder hour (0-23)")
	settingsCmd.Flags().StringVar(&setWeekStart, "week-start", "", "first day of the week (e.g. monday)")
	settingsCmd.Flags().StringVar(&setTheme, "theme", "", "UI theme name")

	rootCmd.AddCommand(settingsCmd)
}
