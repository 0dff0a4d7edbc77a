package cmd

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <file|directory>...",
	Short: "List the cases of each suite",
	Long: `List every case with its method, URL, expectation and dependencies.

Examples:
  specrun list users.yaml
  specrun list ./tests/`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func init() {
	listCmd.Flags().StringVar(&patternFlag, "pattern", getEnvString(flagEnv["pattern"], spec.DefaultPattern), usage("Glob selecting suite files inside directories", "pattern"))
}

func listCommand(cmd *cobra.Command, args []string) error {
	files, err := spec.Discover(args, patternFlag)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no suite files found")
	}

	for _, file := range files {
		suite, err := spec.LoadFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error loading %s: %v\n", file, err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%s):\n", suite.Name, file)
		for _, c := range suite.Cases {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s: %s %s\n", c.Name, c.Request.Method, c.Request.URL)
			fmt.Fprintf(cmd.OutOrStdout(), "    expect: %s\n", describeExpect(c.Expect))
			if len(c.DependsOn) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    dependsOn: %s\n", strings.Join(c.DependsOn, ", "))
			}
		}
	}

	return nil
}

func describeExpect(e spec.Expect) string {
	var parts []string
	if e.HasStatus() {
		parts = append(parts, fmt.Sprintf("status %d", e.Status))
	}
	if e.HasSchema() {
		if e.SchemaSource != "" {
			parts = append(parts, "schema "+e.SchemaSource)
		} else {
			parts = append(parts, "inline schema")
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "any response")
	}
	for _, s := range e.Save {
		parts = append(parts, fmt.Sprintf("save %s as %s", s.Path.Raw, s.Name))
	}
	return strings.Join(parts, ", ")
}
