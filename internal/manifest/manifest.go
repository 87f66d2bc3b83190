package manifest

import (
	"fmt"
	"strings"
	"time"
)

// Manifest is the parsed pipeline manifest.
//
// Phases run in declaration order: install, before_script, script,
// after_success. Services are started before the first phase and torn down
// after the last. Coverage and deploy are handled by the engine after the
// script phase.
type Manifest struct {
	Language string `yaml:"language"`
	Runtime  string `yaml:"runtime"`

	Env      EnvSpec   `yaml:"env"`
	Services []Service `yaml:"services"`

	Install      StepList `yaml:"install"`
	BeforeScript StepList `yaml:"before_script"`
	Script       StepList `yaml:"script"`
	AfterSuccess StepList `yaml:"after_success"`

	Coverage *CoverageSpec `yaml:"coverage"`
	Deploy   *DeploySpec   `yaml:"deploy"`

	Notifications Notifications `yaml:"notifications"`
}

// Step is a single command invocation within a phase.
//
// In YAML a step is either a bare command string or a mapping:
//
//	script:
//	  - flake8 src
//	  - run: py.test --pyargs mypkg
//	    fresh_dir: true
type Step struct {
	// Name is a short label for output. Defaults to the first command word.
	Name string `yaml:"name"`

	// Run is the shell command to execute.
	Run string `yaml:"run"`

	// Retry marks the step as safe to retry on failure (network-sensitive
	// installs). nil means "use the phase default".
	Retry *bool `yaml:"retry"`

	// FreshDir runs the step from a newly created, otherwise-empty working
	// directory instead of the checkout.
	FreshDir bool `yaml:"fresh_dir"`

	// Timeout bounds the step. Zero means the engine's default.
	Timeout Duration `yaml:"timeout"`
}

func (s *Step) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var cmd string
	if err := unmarshal(&cmd); err == nil {
		*s = Step{Run: cmd}
		return nil
	}

	type plain Step
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = Step(p)
	return nil
}

// DisplayName returns the step's label for sinks and logs.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	fields := strings.Fields(s.Run)
	if len(fields) == 0 {
		return "(empty)"
	}
	return fields[0]
}

// StepList accepts either a single step or a sequence of steps.
type StepList []Step

func (l *StepList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var many []Step
	if err := unmarshal(&many); err == nil {
		*l = many
		return nil
	}

	var one Step
	if err := unmarshal(&one); err != nil {
		return err
	}
	*l = StepList{one}
	return nil
}

// StringList accepts either a single string or a sequence of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var many []string
	if err := unmarshal(&many); err == nil {
		*l = many
		return nil
	}

	var one string
	if err := unmarshal(&one); err != nil {
		return err
	}
	*l = StringList{one}
	return nil
}

// Duration parses either a Go duration string ("3s") or a bare number of
// seconds, which is how settle delays are usually written in manifests.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var secs float64
	if err := unmarshal(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Service is a background process brought up before the first phase, e.g. a
// virtual framebuffer for plot-generation tests. Env entries are exported to
// every later step (DISPLAY and friends). Settle is how long to wait after
// start before declaring the service up.
type Service struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Settle  Duration          `yaml:"settle"`
}

// CoverageSpec configures the post-success coverage handling: a terminal
// report of lines missed, and optionally an upload to a reporting service.
type CoverageSpec struct {
	// File is the coverage profile written by the test step.
	File string `yaml:"file"`

	// Service is the upload endpoint. Empty disables uploading.
	Service string `yaml:"service"`

	// TokenEnv names the environment variable holding the upload token.
	TokenEnv string `yaml:"token_env"`

	// ShowMissing prints per-file missed line ranges to the console.
	ShowMissing bool `yaml:"show_missing"`
}

// DeploySpec is the conditional publication block.
type DeploySpec struct {
	Provider string            `yaml:"provider"`
	Username string            `yaml:"username"`
	Password Secure            `yaml:"password"`
	Options  map[string]string `yaml:"options"`
	On       Condition         `yaml:"on"`
}

// Condition gates deploy on the triggering build context.
type Condition struct {
	// Tags requires the build to be a tag push.
	Tags bool `yaml:"tags"`

	// Repo requires an exact OWNER/REPO slug match, so forks and renamed
	// mirrors never publish.
	Repo string `yaml:"repo"`

	// Branch requires a branch match (ignored for tag pushes).
	Branch string `yaml:"branch"`

	// AllowForks permits deploys from forked repositories. Off by default.
	AllowForks bool `yaml:"allow_forks"`
}

// Notifications configures end-of-run reporting.
type Notifications struct {
	// GitHubStatus posts commit statuses (pending/success/failure) for the
	// build commit.
	GitHubStatus bool `yaml:"github_status"`

	// StatusContext overrides the status context string.
	StatusContext string `yaml:"status_context"`
}

// Secure is a value that may be given in plaintext or as an encrypted
// "secure:" entry:
//
//	password: hunter2
//	password:
//	  secure: "base64..."
type Secure struct {
	Plain  string
	Sealed string
}

func (s *Secure) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var plain string
	if err := unmarshal(&plain); err == nil {
		*s = Secure{Plain: plain}
		return nil
	}

	var m struct {
		Secure string `yaml:"secure"`
	}
	if err := unmarshal(&m); err != nil {
		return err
	}
	if m.Secure == "" {
		return fmt.Errorf("secure value is empty")
	}
	*s = Secure{Sealed: m.Secure}
	return nil
}

// IsZero reports whether no value was provided at all.
func (s Secure) IsZero() bool { return s.Plain == "" && s.Sealed == "" }

// IsSealed reports whether the value requires a keybox to resolve.
func (s Secure) IsSealed() bool { return s.Sealed != "" }
