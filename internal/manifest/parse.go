package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultFilenames are the manifest names Discover probes for, in order.
var DefaultFilenames = []string{".plumerun.yml", "plumerun.yml", ".pipeline.yml"}

const defaultServiceSettle = 3 * time.Second

// Load reads and parses a manifest file, then normalizes it.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest YAML and applies defaults.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(raw, &m); err != nil {
		return nil, err
	}
	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Discover returns the manifest path to use for dir: an explicit path wins,
// otherwise the first DefaultFilenames entry that exists.
func Discover(dir, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("manifest %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range DefaultFilenames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s (looked for %v)", dir, DefaultFilenames)
}

// normalize fills phase defaults.
//
// Install steps retry by default: dependency installation is the
// network-sensitive class, and transient network failures there are retried
// rather than failing the run outright. Every other phase defaults to a
// single attempt.
func (m *Manifest) normalize() {
	yes, no := true, false
	defaultRetry(m.Install, &yes)
	defaultRetry(m.BeforeScript, &no)
	defaultRetry(m.Script, &no)
	defaultRetry(m.AfterSuccess, &no)

	for i := range m.Services {
		if m.Services[i].Settle == 0 {
			m.Services[i].Settle = Duration(defaultServiceSettle)
		}
		if m.Services[i].Name == "" {
			m.Services[i].Name = Step{Run: m.Services[i].Command}.DisplayName()
		}
	}
}

func defaultRetry(steps []Step, def *bool) {
	for i := range steps {
		if steps[i].Retry == nil {
			steps[i].Retry = def
		}
	}
}

// Validate rejects structurally broken manifests. Softer advisory problems
// are the lint checks' business; everything here is fatal.
func (m *Manifest) Validate() error {
	for phase, steps := range map[string][]Step{
		"install":       m.Install,
		"before_script": m.BeforeScript,
		"script":        m.Script,
		"after_success": m.AfterSuccess,
	} {
		for i, s := range steps {
			if s.Run == "" {
				return fmt.Errorf("%s step %d has no command", phase, i+1)
			}
			if s.Timeout < 0 {
				return fmt.Errorf("%s step %d has negative timeout", phase, i+1)
			}
		}
	}

	for i, svc := range m.Services {
		if svc.Command == "" {
			return fmt.Errorf("service %d (%s) has no command", i+1, svc.Name)
		}
		if svc.Settle < 0 {
			return fmt.Errorf("service %s has negative settle delay", svc.Name)
		}
	}

	for _, line := range m.Env.Global {
		if line.Secure != "" {
			continue // checked at resolve time, needs the keybox
		}
		if _, err := ParseAssignment(line.Raw); err != nil {
			return fmt.Errorf("env: %w", err)
		}
	}
	for _, row := range m.Env.Matrix {
		if _, err := ParseRow(row); err != nil {
			return fmt.Errorf("env matrix: %w", err)
		}
	}

	if m.Deploy != nil && m.Deploy.Provider == "" {
		return fmt.Errorf("deploy block has no provider")
	}

	if m.Coverage != nil && m.Coverage.Service != "" && m.Coverage.File == "" {
		return fmt.Errorf("coverage upload requires a profile file")
	}

	return nil
}
