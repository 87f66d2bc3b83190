package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"plumerun/internal/build"
	"plumerun/internal/config"
	"plumerun/internal/flags"
	"plumerun/internal/gitstatus"
	"plumerun/internal/logx"
	"plumerun/internal/manifest"
	"plumerun/internal/pipeline"
	"plumerun/internal/secret"
)

var (
	cfg     = config.New()
	cfgPath string
)

var (
	runOnly   []string
	runSkip   []string
	runDryRun bool

	overrideRepo   string
	overrideBranch string
	overrideTag    string
	overrideCommit string
	overrideEvent  string
	overrideFork   bool
)

const runHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	Build context fields not given as flags are read from PLUMERUN_REPO_SLUG,
	PLUMERUN_BRANCH, PLUMERUN_TAG, PLUMERUN_COMMIT, PLUMERUN_EVENT and
	PLUMERUN_FORK, then interrogated from git in the working directory.

	Encrypted "secure:" manifest values are opened with the key from
	--secret-key or PLUMERUN_SECRET_KEY (hex or base64).

	Commit status reporting authenticates to GitHub using an access token.
	Sources (in order):
	1) status.token in the config file
	2) GITHUB_TOKEN environment variable
	3) GitHub CLI (gh) authentication via gh auth token (if gh is installed and logged in)

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline described by the manifest",
	Long: `Run the pipeline described by the manifest in the current checkout.

The manifest is discovered in the working directory (.plumerun.yml,
plumerun.yml, .pipeline.yml) unless --manifest names one. Each env matrix row
becomes a job; jobs run their install, before_script, script and after_success
phases in order, with background services started per job.

After all jobs succeed, the post-success tail runs: the coverage report and
upload, then the deploy if its condition admits the build context.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (run.started, job.started, phase.started, step.result,
	job.finished, run.finished).
	Step results are represented as an Event with type "step.result" and a nested
	"result" object.

Exit codes:
	0 = pipeline succeeded
	1 = a step or the deploy failed
	2 = partial (after_success, coverage upload or status posting had problems)
	3 = fatal error (run did not start)

Examples:
  # Run the discovered manifest
  plumerun run

  # Run only the script phase of one matrix job
  plumerun run --only script

  # Pretend to be a tag push so the deploy condition can admit the build
  plumerun run --repo acme/widget --tag v1.2.0 --event push

	# AI Agent: stream machine-readable events to stdout
	plumerun run --no-console --emit ndjson
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := loadFileConfig(cmd.Flags()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		logger := logx.New(cfg.Runtime.Verbose)
		ctx := logx.WithDlog(context.Background(), logger)

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

		bc, err := build.Resolve(ctx, dir, build.Context{
			RepoSlug: overrideRepo,
			Branch:   overrideBranch,
			Tag:      overrideTag,
			Commit:   overrideCommit,
			Event:    build.Event(overrideEvent),
			IsFork:   overrideFork,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		eng := &pipeline.Engine{
			Config: cfg,
			Build:  bc,
			Log:    logger,
			Dir:    dir,
			Keybox: kb,
			Status: statusFunc(ctx, m, bc),
			DryRun: runDryRun,
			Only:   runOnly,
			Skip:   runSkip,
		}
		os.Exit(eng.Run(ctx, m))
	},
}

// loadFileConfig layers the TOML file and PLUMERUN_CFG_ environment config
// under the flag values already parsed into cfg. A flag the user set wins;
// everything else takes the file/env value.
func loadFileConfig(fs *pflag.FlagSet) error {
	fileCfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	fromFile := map[string]func(){
		flags.FlagManifest:            func() { cfg.Runtime.Manifest = fileCfg.Runtime.Manifest },
		flags.FlagConcurrency:         func() { cfg.Runtime.Concurrency = fileCfg.Runtime.Concurrency },
		flags.FlagTimeout:             func() { cfg.Runtime.Timeout = fileCfg.Runtime.Timeout },
		flags.FlagVerbose:             func() { cfg.Runtime.Verbose = fileCfg.Runtime.Verbose },
		flags.FlagConsoleFormat:       func() { cfg.Output.ConsoleFormat = fileCfg.Output.ConsoleFormat },
		flags.FlagConsoleFilterStatus: func() { cfg.Output.ConsoleFilterStatus = fileCfg.Output.ConsoleFilterStatus },
		flags.FlagReport:              func() { cfg.Output.Report = fileCfg.Output.Report },
		flags.FlagOut:                 func() { cfg.Output.Out = fileCfg.Output.Out },
		flags.FlagOutFormat:           func() { cfg.Output.OutFormat = fileCfg.Output.OutFormat },
		flags.FlagEmit:                func() { cfg.Output.Emit = fileCfg.Output.Emit },
		flags.FlagNoConsole:           func() { cfg.Output.NoConsole = fileCfg.Output.NoConsole },
		flags.FlagSecretKey:           func() { cfg.Secrets.Key = fileCfg.Secrets.Key },
		"ignore":                      func() { cfg.Lint.Ignore = fileCfg.Lint.Ignore },
	}
	for name, apply := range fromFile {
		if !fs.Changed(name) {
			apply()
		}
	}

	cfg.Runtime.StepTimeout = fileCfg.Runtime.StepTimeout
	cfg.Status = fileCfg.Status
	return nil
}

func openKeybox() (*secret.Keybox, error) {
	key := cfg.Secrets.Key
	if key == "" {
		key = os.Getenv("PLUMERUN_SECRET_KEY")
	}
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	return secret.NewKeybox(key)
}

// statusFunc wires commit status reporting into the engine. Reporting is on
// when either the config or the manifest's notifications block enables it.
// Construction problems are deferred into the returned closure so the engine
// treats them as partial results instead of aborting the run.
func statusFunc(ctx context.Context, m *manifest.Manifest, bc build.Context) func(context.Context, gitstatus.State, string) error {
	if !cfg.Status.Enabled && !m.Notifications.GitHubStatus {
		return nil
	}

	statusContext := cfg.Status.Context
	if m.Notifications.StatusContext != "" {
		statusContext = m.Notifications.StatusContext
	}

	reporter, err := buildReporter(ctx, statusContext)
	if err != nil {
		return func(context.Context, gitstatus.State, string) error { return err }
	}
	return func(postCtx context.Context, state gitstatus.State, description string) error {
		return reporter.Post(postCtx, bc.RepoSlug, bc.Commit, state, description)
	}
}

func buildReporter(ctx context.Context, statusContext string) (*gitstatus.Reporter, error) {
	token, _, err := gitstatus.ResolveAuthToken(ctx, cfg.Status.Token)
	if err != nil {
		return nil, fmt.Errorf("resolve GitHub token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("status reporting is enabled but no GitHub token is available (set GITHUB_TOKEN or run 'gh auth login')")
	}
	client, err := gitstatus.NewClient(ctx, token, gitstatus.WithVerbose(cfg.Runtime.Verbose, nil))
	if err != nil {
		return nil, err
	}
	return gitstatus.NewReporter(client, statusContext)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.SetHelpTemplate(runHelpTemplate)

	// MAINTAINER NOTE: If you add/change/remove any run-affecting flags here,
	// keep the config fields and loadFileConfig in sync:
	// internal/config/config.go.

	// Manifest / build context
	runCmd.Flags().StringVar(&cfg.Runtime.Manifest, flags.FlagManifest, "", "Manifest path (default: discover .plumerun.yml in the working directory)")
	runCmd.Flags().StringVar(&overrideRepo, flags.FlagRepo, "", "Repository slug OWNER/REPO the build runs against")
	runCmd.Flags().StringVar(&overrideBranch, flags.FlagBranch, "", "Branch name of the build")
	runCmd.Flags().StringVar(&overrideTag, flags.FlagTag, "", "Tag name when the build is a tag push")
	runCmd.Flags().StringVar(&overrideCommit, flags.FlagCommit, "", "Full commit SHA being built")
	runCmd.Flags().StringVar(&overrideEvent, flags.FlagEvent, "", "Build trigger: push|pull_request|api (default: inferred)")
	runCmd.Flags().BoolVar(&overrideFork, flags.FlagFork, false, "Mark the build as running against a fork")

	// Phase selection
	runCmd.Flags().StringSliceVar(&runOnly, flags.FlagOnly, nil, "Run only these phases (repeatable; comma-separated accepted)")
	runCmd.Flags().StringSliceVar(&runSkip, flags.FlagSkip, nil, "Skip these phases (repeatable; comma-separated accepted; wins over --only)")
	runCmd.Flags().BoolVar(&runDryRun, flags.FlagDryRun, false, "Print the expanded job plan without executing anything")

	// Output
	runCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson (default: text)")
	runCmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter console output by step status (OK, FAILED, SKIPPED, ERROR). Comma-separated.")
	runCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown run report to this path")
	runCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	runCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	runCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	runCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")

	// Runtime
	runCmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, cfg.Runtime.Concurrency, "Matrix jobs to run in parallel (default: 1)")
	runCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout for the whole run (default: 50m)")
	runCmd.Flags().StringVar(&cfg.Secrets.Key, flags.FlagSecretKey, "", "Key for \"secure:\" manifest values, hex or base64 (default: PLUMERUN_SECRET_KEY)")
}
