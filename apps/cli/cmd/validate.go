package cmd

import (
	"fmt"

	"github.com/abdul-hamid-achik/specrun/packages/core/spec"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>...",
	Short: "Validate suite files without sending requests",
	Long: `Load and validate suite files: structure, methods, status codes,
JSON schemas, save paths and dependsOn references. Nothing is sent.

Examples:
  specrun validate users.yaml
  specrun validate ./tests/`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func init() {
	validateCmd.Flags().StringVar(&patternFlag, "pattern", getEnvString(flagEnv["pattern"], spec.DefaultPattern), usage("Glob selecting suite files inside directories", "pattern"))
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := spec.Discover(args, patternFlag)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no suite files found")
	}

	loader := spec.NewLoader(spec.WithWarnFunc(warnFunc(cmd.ErrOrStderr())))
	hasErrors := false
	for _, file := range files {
		suite, err := loader.LoadFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%d cases)\n", file, len(suite.Cases))
	}

	if hasErrors {
		return fmt.Errorf("validation failed")
	}

	return nil
}
