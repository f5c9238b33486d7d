package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/0xPuncker/periodic/internal/api"
	"github.com/0xPuncker/periodic/internal/notifications"
	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/pkg/utils"
	"github.com/dimiro1/banner"
	"github.com/mattn/go-colorable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const bannerText = `
{{ .Title "Periodic" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "periodic",
		Short:         "Run periodic jobs from a single scheduler pass",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if show, _ := cmd.Flags().GetBool("banner"); show {
				banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))
			}
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to the job file (JSON or YAML)")
	root.PersistentFlags().String("log-level", "", "Log level (defaults to LOG_LEVEL or info)")
	root.PersistentFlags().Bool("banner", false, "Print the startup banner")

	root.AddCommand(runCmd(), statusCmd(), serveCmd(), versionCmd())
	return root
}

func setup(cmd *cobra.Command) (*app, error) {
	level, _ := cmd.Flags().GetString("log-level")
	cfgPath, _ := cmd.Flags().GetString("config")
	return newApp(cfgPath, newLogger(level))
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute exactly one scheduling pass",
		Long: `Execute exactly one scheduling pass: every due job runs once and the
store is saved at the end of the pass.

Exit status is 0 when the pass completed, including when individual jobs
failed, and also when another pass holds the running flag. In that case
nothing is executed and "Scheduler already running, nothing done." is
printed. Exit status is 1 when the pass could not start or its history
could not be saved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			force, _ := cmd.Flags().GetStringSlice("force")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.runner().Run(ctx, runner.RunOptions{DryRun: dryRun, Force: force})
			if res != nil {
				if perr := printPass(cmd.OutOrStdout(), res); perr != nil {
					a.logger.WithError(perr).Warn("Failed to print pass summary")
				}
				notifyPass(ctx, a, res)
			}
			return err
		},
	}
	cmd.Flags().Bool("dry-run", false, "Report due jobs without executing them or writing the store")
	cmd.Flags().StringSlice("force", nil, "Run the named jobs even if they are not due")
	return cmd
}

func notifyPass(ctx context.Context, a *app, res *runner.Result) {
	if os.Getenv("SLACK_WEBHOOK_URL") == "" {
		return
	}
	slack, err := notifications.NewSlackService(a.logger)
	if err != nil {
		a.logger.Warnf("Failed to initialize Slack service: %v", err)
		return
	}
	if err := notifications.NewNotificationService(slack).SendPassSummary(ctx, res); err != nil {
		a.logger.WithError(err).Warn("Failed to send pass summary")
	}
}

func printPass(w io.Writer, res *runner.Result) error {
	if res.Status == runner.StatusAlreadyRunning {
		fmt.Fprintln(w, "Scheduler already running, nothing done.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	if err := table.Append([]string{"JOB", "OUTCOME", "NEXT DUE", "DETAIL"}); err != nil {
		return fmt.Errorf("failed to append header row: %w", err)
	}
	for _, job := range res.Jobs {
		next := "-"
		if job.NextDue != nil {
			next = job.NextDue.Format(time.RFC3339)
		}
		detail := job.Error()
		if detail == "" && job.Outcome == runner.OutcomeRan {
			detail = "took " + utils.FormatElapsed(job.Duration)
		}
		if err := table.Append([]string{job.Name, string(job.Outcome), next, detail}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	fmt.Fprintf(w, "\n%d ran, %d failed, %d skipped", len(res.Ran()), len(res.Failed()), len(res.Skipped()))
	if res.DryRun {
		fmt.Fprintf(w, ", %d due (dry run)", len(res.Due()))
	}
	fmt.Fprintln(w)
	return nil
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show last run, next due time and last result of every job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			snap, err := a.store(false).Load()
			if err != nil {
				return err
			}

			now := time.Now().In(a.location)
			statuses := runner.Inspect(a.registry, snap, a.evaluator, now)

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			return printStatus(cmd.OutOrStdout(), statuses, now)
		},
	}
	cmd.Flags().Bool("json", false, "Print machine readable output")
	return cmd
}

func printStatus(w io.Writer, statuses []runner.JobStatus, now time.Time) error {
	table := tablewriter.NewWriter(w)
	if err := table.Append([]string{"JOB", "INTERVAL", "LAST RUN", "NEXT DUE", "LAST RESULT"}); err != nil {
		return fmt.Errorf("failed to append header row: %w", err)
	}
	for _, st := range statuses {
		lastRun := "never"
		if st.LastRun != nil {
			lastRun = st.LastRun.Format(time.RFC3339)
		}

		next := "-"
		switch {
		case st.Error != "":
			next = "invalid: " + st.Error
		case !st.Registered:
			next = "not registered"
		case st.NextDue != nil:
			next = utils.FormatDuration(st.NextDue.Sub(now))
		}

		row := []string{st.Name, st.Interval, lastRun, next, abbreviate(string(st.LastResult), 60)}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

// abbreviate collapses whitespace and shortens s to at most n runes.
func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			ttl, _ := cmd.Flags().GetDuration("cache-ttl")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := api.NewHandler(a.logger, a.registry, a.store(false), a.guard, a.evaluator, ttl)
			if err := api.StartServer(ctx, handler, addr); err != nil {
				return err
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Duration("cache-ttl", 5*time.Second, "How long a store snapshot is reused between requests")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and builtin tasks",
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "periodic %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(w, "\nBuiltin tasks:")
			for _, task := range builtinTasks() {
				fmt.Fprintf(w, "  %s\n", task)
			}
		},
	}
}
