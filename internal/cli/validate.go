package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"plumerun/internal/flags"
	"plumerun/internal/lint"
	"plumerun/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Lint the manifest without running it",
	Long: `Lint the manifest without running anything.

Structural problems (unparseable YAML, empty commands) are rejected when the
manifest is loaded. Everything else is advisory: each registered check looks
at the parsed manifest and reports PASS, FAIL or ERROR. Checks listed in
lint.ignore (or --ignore) are suppressed entirely.

Checks that open "secure:" values need the secret key (see --secret-key,
PLUMERUN_SECRET_KEY).

Exit codes:
	0 = all checks passed
	1 = at least one check reported FAIL or ERROR
	3 = manifest could not be loaded

Examples:
  # Lint the discovered manifest
  plumerun validate

  # Suppress one check
  plumerun validate --ignore env-duplicates
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := loadFileConfig(cmd.Flags()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		cfg.Lint.Ignore = splitIgnoreList(cfg.Lint.Ignore)

		dir, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		path, err := manifest.Discover(dir, cfg.Runtime.Manifest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		m, err := manifest.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		kb, err := openKeybox()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		results := lint.Run(lint.Input{Manifest: m, Keybox: kb}, cfg.Lint.Ignore)

		problems := 0
		for _, res := range results {
			printLintResult(cmd.OutOrStdout(), res)
			if res.Status != lint.StatusPass {
				problems++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d checks, %d problems\n", len(results), problems)

		if problems > 0 {
			os.Exit(1)
		}
	},
}

func printLintResult(w io.Writer, res lint.Result) {
	tag := lintStatusColor(res.Status).Sprintf("[%s]", res.Status)
	line := fmt.Sprintf("%s %s", tag, res.CheckID)
	if res.Message != "" {
		line += ": " + res.Message
	}
	fmt.Fprintln(w, line)
}

func lintStatusColor(s lint.Status) *color.Color {
	switch s {
	case lint.StatusPass:
		return color.New(color.FgGreen)
	case lint.StatusFail, lint.StatusError:
		return color.New(color.FgRed)
	default:
		return color.New()
	}
}

func splitIgnoreList(values []string) []string {
	// Same comma-splitting the run command gets from Config.Validate.
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&cfg.Runtime.Manifest, flags.FlagManifest, "", "Manifest path (default: discover .plumerun.yml in the working directory)")
	validateCmd.Flags().StringSliceVar(&cfg.Lint.Ignore, "ignore", nil, "Check IDs to suppress (repeatable; comma-separated accepted)")
	validateCmd.Flags().StringVar(&cfg.Secrets.Key, flags.FlagSecretKey, "", "Key for \"secure:\" manifest values, hex or base64 (default: PLUMERUN_SECRET_KEY)")
}
