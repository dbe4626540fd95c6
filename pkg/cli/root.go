// Package cli implements the bqguard command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bq-guard/internal/app"
	"bq-guard/internal/config"
	"bq-guard/internal/domain"
	"bq-guard/internal/report"
)

var (
	version = "dev"
	commit  = "none"
)

// runtime carries the process surface and the resolved configuration
// shared by every command.
type runtime struct {
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	isTerminal func() bool
	openApp    func(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts app.OpenOptions) (*app.App, error)

	// Resolved in PersistentPreRunE.
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	output  string
	creds   string

	// cfgExisted reports whether the config file existed before Load,
	// which writes the defaults when it is missing.
	cfgExisted bool
}

func defaultRuntime() *runtime {
	return &runtime{
		in:         os.Stdin,
		out:        os.Stdout,
		errOut:     os.Stderr,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		openApp:    app.Open,
	}
}

// Execute runs the CLI.
func Execute() int {
	rt := defaultRuntime()
	rootCmd := newRootCmd(rt)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		printError(rt, err)
		return 1
	}
	return 0
}

func printError(rt *runtime, err error) {
	if rt.output == "json" {
		errObj := map[string]interface{}{
			"error": err.Error(),
		}
		var pv *domain.PolicyViolationError
		if errors.As(err, &pv) {
			errObj["code"] = "POLICY_VIOLATION"
			errObj["findings"] = pv.Findings
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			errObj["code"] = "VALIDATION"
		}
		_ = report.PrintJSON(rt.out, errObj)
		return
	}
	_, _ = fmt.Fprintf(rt.errOut, "Error: %v\n", err)
}

func newRootCmd(rt *runtime) *cobra.Command {
	var (
		cfgPath  string
		project  string
		location string
		logLevel string
		output   string
		creds    string
	)

	rootCmd := &cobra.Command{
		Use:           "bqguard",
		Short:         "Guard BigQuery queries with dry-run cost estimates and policy checks",
		Long:          "bqguard estimates the bytes a BigQuery query would scan, checks it against cost limits and\nquery-shape policies, and only executes it when the policy allows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
			}
			rt.output = output

			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}

			// Apply precedence: flag > env > file > default
			path := cfgPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			_, statErr := os.Stat(path)
			rt.cfgExisted = statErr == nil
			cfg := config.Load(path)
			cfg.ApplyEnv()
			if cmd.Flags().Changed("project") {
				cfg.App.DefaultProject = project
			}
			if cmd.Flags().Changed("location") {
				cfg.App.Location = location
			}
			if cmd.Flags().Changed("log-level") {
				cfg.App.LogLevel = logLevel
			}

			rt.cfg = cfg
			rt.cfgPath = path
			rt.creds = creds
			rt.logger = slog.New(slog.NewTextHandler(rt.errOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			for _, w := range cfg.Warnings {
				rt.logger.Warn("config value corrected", "field", w.Field, "value", w.Value, "reason", w.Reason)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default $BQGUARD_CONFIG or <user config dir>/bq-guard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "Billing project (overrides app.default_project)")
	rootCmd.PersistentFlags().StringVar(&location, "location", "", "Job location (overrides app.location)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&creds, "credentials", "", "Service account key file (default: application default credentials)")

	rootCmd.SetIn(rt.in)
	rootCmd.SetOut(rt.out)
	rootCmd.SetErr(rt.errOut)

	rootCmd.AddCommand(newCheckCmd(rt))
	rootCmd.AddCommand(newWatchCmd(rt))
	rootCmd.AddCommand(newRunCmd(rt))
	rootCmd.AddCommand(newCacheCmd(rt))
	rootCmd.AddCommand(newConfigCmd(rt))
	rootCmd.AddCommand(newHistoryCmd(rt))
	rootCmd.AddCommand(newVersionCmd(rt))

	return rootCmd
}

// open wires the app for the resolved configuration.
func (rt *runtime) open(ctx context.Context, opts app.OpenOptions) (*app.App, error) {
	opts.CredentialsFile = rt.creds
	return rt.openApp(ctx, rt.cfg, rt.logger, opts)
}

const closeTimeout = 10 * time.Second

// closeApp flushes the app with a bounded wait.
func (rt *runtime) closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		rt.logger.Warn("shutdown incomplete", "error", err)
	}
}

func (rt *runtime) header() report.Header {
	return report.Header{Project: rt.cfg.App.DefaultProject, Location: rt.cfg.App.Location}
}
