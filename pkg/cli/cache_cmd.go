package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bq-guard/internal/app"
	"bq-guard/internal/domain"
	"bq-guard/internal/report"
)

func newCacheCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the table metadata cache",
	}

	cmd.AddCommand(newCacheShowCmd(rt))
	cmd.AddCommand(newCacheClearCmd(rt))
	cmd.AddCommand(newCachePathCmd(rt))

	return cmd
}

type cacheEntryJSON struct {
	Table         string `json:"table"`
	PartitionType string `json:"partition_type"`
	PartitionKey  string `json:"partition_key,omitempty"`
	IngestionTime bool   `json:"ingestion_time"`
	LastSeen      string `json:"last_seen,omitempty"`
}

func newCacheShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List cached partition metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rt.open(cmd.Context(), app.OpenOptions{Offline: true})
			if err != nil {
				return err
			}
			defer rt.closeApp(a)

			entries := a.Cache.Entries()
			if rt.output == "json" {
				out := make([]cacheEntryJSON, len(entries))
				for i, e := range entries {
					out[i] = cacheEntryJSON{
						Table:         e.Table,
						PartitionType: string(e.Descriptor.PartitionType),
						PartitionKey:  e.Descriptor.PartitionKey,
						IngestionTime: e.Descriptor.IsIngestionTime,
						LastSeen:      e.Descriptor.LastSeen,
					}
				}
				return report.PrintJSON(rt.out, out)
			}
			tables := make([]string, len(entries))
			descs := make([]domain.TableDescriptor, len(entries))
			for i, e := range entries {
				tables[i] = e.Table
				descs[i] = e.Descriptor
			}
			return report.CacheTable(rt.out, tables, descs)
		},
	}
}

func newCacheClearCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached metadata so the next estimate refetches it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rt.open(cmd.Context(), app.OpenOptions{Offline: true})
			if err != nil {
				return err
			}
			defer rt.closeApp(a)

			n := a.Cache.Len()
			if err := a.Cache.Clear(); err != nil {
				return err
			}
			if rt.output == "json" {
				return report.PrintJSON(rt.out, map[string]interface{}{"cleared": n, "path": a.Cache.Path()})
			}
			_, _ = fmt.Fprintf(rt.out, "Cleared %d cached table(s) from %s\n", n, a.Cache.Path())
			return nil
		},
	}
}

func newCachePathCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the metadata cache file location",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := rt.cfg.CacheFilePath()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.out, path)
			return nil
		},
	}
}
