package flags

// Package flags defines canonical CLI flag names shared across the CLI and
// pipeline engine. Keeping these as constants helps avoid drift between Cobra
// flag wiring and other code paths that need to reference flags (e.g. dry-run
// plan printing).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Runtime.Manifest, flags.FlagManifest, "", "...")
//	arg := "--" + flags.FlagManifest
const (
	// Manifest / build context
	FlagManifest = "manifest"
	FlagRepo     = "repo"
	FlagBranch   = "branch"
	FlagTag      = "tag"
	FlagCommit   = "commit"
	FlagFork     = "fork"
	FlagEvent    = "event"

	// Phase selection
	FlagOnly   = "only"
	FlagSkip   = "skip"
	FlagDryRun = "dry-run"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagVerbose     = "verbose"
	FlagSecretKey   = "secret-key"
)
