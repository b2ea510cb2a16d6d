package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backtesting-org/trading-node/internal/connectors"
)

// NewListAdaptersCmd creates a cobra command that describes every adapter
// kind and its venue parameters
func NewListAdaptersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list-adapters",
		Short: "List all available adapters and their venue parameters",
		Long: `List all available adapters and their venue parameters.

By default, outputs in a human-readable format.
Use --json flag for machine-readable JSON output (useful for programmatic integration).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := connectors.DefaultRegistry()
			if err != nil {
				return err
			}
			providers := registry.List()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(providers); err != nil {
					return fmt.Errorf("failed to encode adapters: %w", err)
				}
				return nil
			}

			printHumanReadable(cmd.OutOrStdout(), providers)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func printHumanReadable(w io.Writer, providers []connectors.Provider) {
	fmt.Fprintln(w, "Available Adapters:")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	for i, p := range providers {
		if i > 0 {
			fmt.Fprintln(w, strings.Repeat("-", 80))
		}

		roles := make([]string, 0, 2)
		for _, r := range p.Roles() {
			roles = append(roles, string(r))
		}
		fmt.Fprintf(w, "%s (%s)\n", p.Kind, strings.Join(roles, ", "))
		fmt.Fprintf(w, "  %s\n\n", p.Description)

		// Separate required and optional params
		var required, optional []connectors.ParamMetadata
		for _, param := range p.Params {
			if param.Required {
				required = append(required, param)
			} else {
				optional = append(optional, param)
			}
		}

		if len(required) > 0 {
			fmt.Fprintln(w, "  Required Params:")
			for _, param := range required {
				printParam(w, param, true)
			}
		}
		if len(optional) > 0 {
			if len(required) > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, "  Optional Params:")
			for _, param := range optional {
				printParam(w, param, false)
			}
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func printParam(w io.Writer, param connectors.ParamMetadata, isRequired bool) {
	marker := "    "
	if isRequired {
		marker = "  * "
	}

	fmt.Fprintf(w, "%s%-22s [%s]\n", marker, param.Name, param.Type)
	fmt.Fprintf(w, "      %s\n", param.Description)

	if param.DefaultValue != nil && param.DefaultValue != "" && param.DefaultValue != false {
		fmt.Fprintf(w, "      Default: %v\n", param.DefaultValue)
	}
}
