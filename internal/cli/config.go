package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/shufflesync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
		Long: `Configuration is resolved from built-in defaults, then the --config YAML
file, then SHUFFLESYNC_* environment variables (optionally loaded from
--env-file), then flags.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return out.Fail(err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return out.Fail(err)
			}
			return out.Success(cfg, func(w io.Writer) { w.Write(data) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			if _, err := rootOpts.loadConfig(); err != nil {
				var verr *config.ValidationError
				if errors.As(err, &verr) && out.Format != "json" {
					for _, p := range verr.Problems {
						fmt.Fprintf(out.Writer, "✗ %s\n", p)
					}
				}
				return out.Fail(err)
			}
			return out.Success(map[string]bool{"valid": true}, func(w io.Writer) {
				fmt.Fprintln(w, "✓ Configuration is valid")
			})
		},
	})

	return cmd
}
