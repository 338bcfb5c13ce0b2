package main

import (
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/stats"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/spf13/cobra"
)

func newChallengeCommand() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show today's challenge",
		RunE:  runChallengeShow,
	}
	var historyFormat string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show past challenges and the completion streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			past, summary := app.challenges.History()
			if historyFormat != formatText {
				return writeStructured(cmd.OutOrStdout(), historyFormat, struct {
					Summary    challenge.Summary        `json:"summary"`
					Challenges []tracker.DailyChallenge `json:"challenges"`
				}{Summary: summary, Challenges: past})
			}
			out := cmd.OutOrStdout()
			headingColor.Fprintf(out, "%d of %d completed (%d%%), streak %d\n",
				summary.Completed, summary.Total, summary.CompletionRate, summary.CurrentStreak)
			for _, entry := range past {
				mark := warnColor.Sprint("missed")
				if entry.IsCompleted {
					mark = successColor.Sprint("done")
				}
				fmt.Fprintf(out, "%s  %-40s %s  %s\n", entry.ChallengeDate, challenge.Describe(entry), challenge.ProgressText(entry), mark)
			}
			return nil
		},
	}
	historyCmd.Flags().StringVar(&historyFormat, "format", formatText, "Output format (text, json, yaml)")

	challengeCmd := &cobra.Command{
		Use:   "challenge",
		Short: "Daily reading challenge",
		RunE:  runChallengeShow,
	}
	challengeCmd.AddCommand(showCmd, historyCmd)
	return challengeCmd
}

func runChallengeShow(cmd *cobra.Command, args []string) error {
	app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if previous, ok := app.challenges.PreviousDayOutcome(); ok {
		printPreviousOutcome(out, previous)
	}
	evaluation, err := app.challenges.Evaluate(cmd.Context())
	if err != nil {
		return err
	}
	printChallenge(out, evaluation.Challenge, time.Now())
	return nil
}

func printChallenge(out io.Writer, current tracker.DailyChallenge, now time.Time) {
	headingColor.Fprintln(out, challenge.Describe(current))
	percent := challenge.Percent(current)
	fmt.Fprintf(out, "%s %s (%.0f%%)\n", progressBar(percent, 20), challenge.ProgressText(current), percent)
	if current.IsCompleted {
		successColor.Fprintln(out, "Completed!")
		return
	}
	mutedColor.Fprintf(out, "%s left\n", challenge.FormatRemaining(current, now))
}

func printPreviousOutcome(out io.Writer, previous tracker.DailyChallenge) {
	if previous.IsCompleted {
		successColor.Fprintf(out, "Yesterday's challenge completed: %s\n", challenge.Describe(previous))
		return
	}
	warnColor.Fprintf(out, "Yesterday's challenge was missed: %s (%s)\n", challenge.Describe(previous), challenge.ProgressText(previous))
}

func printChallengeEvents(out io.Writer, evaluation challenge.Evaluation) {
	if evaluation.Generated {
		headingColor.Fprintf(out, "New challenge: %s\n", challenge.Describe(evaluation.Challenge))
	}
	if evaluation.Completed {
		successColor.Fprintf(out, "Challenge complete: %s\n", challenge.Describe(evaluation.Challenge))
	}
}

func newStatsCommand() *cobra.Command {
	var (
		year   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show reading statistics for a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now()
			if year == 0 {
				year = now.In(app.cfg.ChallengeLocation).Year()
			}
			report := stats.Build(year, now, app.store.AllProgressEntries(), app.store.Books(), app.cfg.ChallengeLocation)
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, report)
			}

			out := cmd.OutOrStdout()
			summary := report.Summary
			headingColor.Fprintf(out, "Reading in %d\n", summary.Year)
			fmt.Fprintf(out, "  books completed  %d\n", summary.BooksCompleted)
			fmt.Fprintf(out, "  pages            %d (%d/day)\n", summary.TotalPages, summary.AvgPagesPerDay)
			fmt.Fprintf(out, "  minutes          %d (%d/day)\n", summary.TotalMinutes, summary.AvgMinutesPerDay)
			fmt.Fprintf(out, "  streak           %d days (longest %d)\n", summary.CurrentStreak, summary.LongestStreak)
			if len(report.GenreBreakdown) > 0 {
				headingColor.Fprintln(out, "Genres")
				for _, share := range report.GenreBreakdown {
					fmt.Fprintf(out, "  %-20s %3d%%  %s\n", share.Genre, share.Percentage, progressBar(float64(share.Percentage), 20))
				}
			}
			if len(report.WeeklyPace) > 0 {
				headingColor.Fprintln(out, "Weekly pace")
				for _, week := range report.WeeklyPace {
					fmt.Fprintf(out, "  %s  %d pages/day  %d min/day\n", week.WeekStart, week.AvgPages, week.AvgMinutes)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Calendar year (defaults to the current year)")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format (text, json, yaml)")
	return cmd
}
