package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local state with the remote snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			if app.sync == nil {
				return fmt.Errorf("sync is not configured; set sync.remote_url or sync.database_path")
			}
			outcome := app.loadOutcome
			printOutcome(cmd, outcome)
			if outcome == syncer.OutcomeFailed {
				return fmt.Errorf("sync failed; see logs")
			}
			return nil
		},
	}
}

func printOutcome(cmd *cobra.Command, outcome syncer.Outcome) {
	out := cmd.OutOrStdout()
	switch outcome {
	case syncer.OutcomeHydrated:
		successColor.Fprintln(out, "Local state replaced by the newer remote snapshot")
	case syncer.OutcomeUploaded:
		successColor.Fprintln(out, "Local snapshot uploaded")
	case syncer.OutcomeSkipped:
		warnColor.Fprintln(out, "Sync skipped (no user set)")
	default:
		warnColor.Fprintln(out, "Sync failed")
	}
}

func newSessionCommand() *cobra.Command {
	var exitAfter time.Duration
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a long-lived session with auto sync and the challenge ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx := signalCtx
			if exitAfter > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(signalCtx, exitAfter)
				defer cancel()
			}

			app, err := openClient(ctx, openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if previous, ok := app.challenges.PreviousDayOutcome(); ok {
				printPreviousOutcome(out, previous)
			}
			if evaluation, err := app.challenges.Evaluate(ctx); err == nil {
				printChallenge(out, evaluation.Challenge, time.Now())
			} else {
				app.logger.Error("challenge evaluation failed", zap.Error(err))
			}

			var workers sync.WaitGroup
			if app.sync != nil {
				workers.Add(1)
				go func() {
					defer workers.Done()
					app.sync.RunAutoSync(ctx, app.cfg.SyncInterval)
				}()
			}
			workers.Add(1)
			go func() {
				defer workers.Done()
				app.challenges.Run(ctx, app.cfg.ChallengeTick, func(evaluation challenge.Evaluation) {
					printChallengeEvents(out, evaluation)
				})
			}()

			app.logger.Info("session started",
				zap.String("user_id", app.cfg.UserID),
				zap.Bool("sync", app.sync != nil),
				zap.Duration("sync_interval", app.cfg.SyncInterval))
			<-ctx.Done()
			workers.Wait()
			app.logger.Info("session ending; flushing snapshot", zap.Duration("timeout", app.cfg.ShutdownTimeout))
			return nil
		},
	}
	cmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "End the session after this duration (0 runs until interrupted)")
	return cmd
}

func newSignOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and erase all local reading data",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{})
			if err != nil {
				return err
			}
			if app.sync != nil {
				app.sync.SignOut()
			} else {
				app.store.ClearAllData()
			}
			if err := app.storage.Delete(challenge.ShownAnimationsKey); err != nil {
				app.logger.Warn("failed to clear shown challenge animations", zap.Error(err))
			}
			if err := app.Close(); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "Signed out; local data cleared")
			return nil
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	var (
		format string
		output string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the full local snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			writer := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				writer = file
			}
			return writeStructured(writer, format, app.store.Snapshot())
		},
	}
	exportCmd.Flags().StringVar(&format, "format", formatJSON, "Output format (json, yaml)")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the local snapshot",
	}
	snapshotCmd.AddCommand(exportCmd)
	return snapshotCmd
}
