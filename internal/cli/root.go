package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "plumerun",
	Short: "Run manifest-driven build pipelines locally",
	Long: `Plumerun runs the build pipeline described by a YAML manifest: install,
before_script, script and after_success phases, an env matrix fanning out into
parallel jobs, background services, coverage reporting and tag-gated deploys.

Examples:
	# Show available commands and global flags
	plumerun --help

	# Run the pipeline in the current checkout
	plumerun run

	# Lint the manifest without running anything
	plumerun validate

	# List lint checks
	plumerun checks list

	# Print build info
	plumerun version

Output:
	By default, commands write human-readable output to stdout.
	Some commands support structured output via emitter flags (see each command's --help).`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, "verbose", false, "Enable verbose logging (echoes subprocess output and full error details)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ./.plumerun.toml, then $HOME/.plumerun.toml)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
