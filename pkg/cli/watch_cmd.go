package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bq-guard/internal/app"
	"bq-guard/internal/domain"
)

func newWatchCmd(rt *runtime) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-estimate a query file every time it changes",
		Long: "Watch a SQL file and print a fresh estimate after each change, debounced by ui.auto_estimate_debounce_ms.\n" +
			"Send SIGHUP to drop the table metadata cache and re-estimate. Stop with Ctrl-C.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return domain.ErrValidation("--interval must be positive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			a, err := rt.open(ctx, app.OpenOptions{Publisher: domain.PublisherFunc(rt.publishState)})
			if err != nil {
				return err
			}
			defer rt.closeApp(a)

			return rt.watchFile(ctx, a, args[0], interval, hup)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "How often to poll FILE for changes")

	return cmd
}

// publishState prints every published state. The scheduler serializes
// calls, so writes never interleave.
func (rt *runtime) publishState(state *domain.EstimationState) {
	if rt.output != "json" {
		_, _ = fmt.Fprintf(rt.out, "--- revision %d ---\n", state.Revision)
	}
	if err := rt.printState(state); err != nil {
		rt.logger.Warn("render estimate failed", "error", err)
	}
}

type fileStamp struct {
	mod  time.Time
	size int64
}

// watchFile feeds the contents of path to the scheduler whenever its
// modification time or size changes, until ctx is done.
func (rt *runtime) watchFile(ctx context.Context, a *app.App, path string, interval time.Duration, hup <-chan os.Signal) error {
	var last fileStamp
	poll := func() error {
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		stamp := fileStamp{mod: fi.ModTime(), size: fi.Size()}
		if stamp == last {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		last = stamp
		rt.logger.Debug("query file changed", "path", path, "size", stamp.size)
		a.Scheduler.Edit(string(data))
		return nil
	}

	if err := poll(); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			rt.logger.Info("refreshing table metadata")
			if err := a.Scheduler.RefreshMetadata(); err != nil {
				rt.logger.Warn("metadata refresh failed", "error", err)
			}
		case <-ticker.C:
			if err := poll(); err != nil {
				// Transient while an editor swaps the file.
				rt.logger.Warn("poll failed", "error", err)
			}
		}
	}
}
