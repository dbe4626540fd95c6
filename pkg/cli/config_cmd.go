package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bq-guard/internal/config"
	"bq-guard/internal/report"
)

func newConfigCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialise the configuration file",
	}

	cmd.AddCommand(newConfigShowCmd(rt))
	cmd.AddCommand(newConfigInitCmd(rt))
	cmd.AddCommand(newConfigPathCmd(rt))

	return cmd
}

func newConfigShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (file, environment, and flags applied)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(rt.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if rt.output == "json" {
				var doc map[string]interface{}
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("convert config: %w", err)
				}
				doc["warnings"] = warningStrings(rt.cfg.Warnings)
				return report.PrintJSON(rt.out, doc)
			}
			_, _ = fmt.Fprint(rt.out, string(data))
			for _, w := range rt.cfg.Warnings {
				_, _ = fmt.Fprintf(rt.out, "# warning: %s\n", w)
			}
			return nil
		},
	}
}

func warningStrings(ws []config.Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.String()
	}
	return out
}

func newConfigInitCmd(rt *runtime) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgExisted && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", rt.cfgPath)
			}
			if err := config.Save(rt.cfgPath, config.Default()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.out, "Wrote default config to %s\n", rt.cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigPathCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintln(rt.out, rt.cfgPath)
			return nil
		},
	}
}
