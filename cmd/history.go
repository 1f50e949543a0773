package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Reads the article history store",
	}
	cmd.AddCommand(newLastDayCmd())
	return cmd
}

// newLastDayCmd prints the records dated on one calendar day as JSON lines.
func newLastDayCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "last-day",
		Short: "Prints yesterday's articles as JSON lines",
		Long: `Prints every stored article dated on the previous calendar day in the
site's timezone, one JSON record per line. --date selects another day.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := appInstance.History().LoadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			var out []crawler.Record
			if date == "" {
				out = history.LastDay(records, appInstance.Clock().Now())
			} else {
				day, err := time.ParseInLocation(crawler.DayLayout, date, appInstance.Clock().Location())
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				out = history.OnDay(records, day)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			for _, rec := range out {
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to print (YYYY-MM-DD); defaults to yesterday")
	return cmd
}
