package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvSpec holds manifest environment configuration.
//
// Two YAML shapes are accepted:
//
//	env:
//	  - PIP_DEPS="pytest pytest-cov flake8"
//
// is shorthand for global variables, and
//
//	env:
//	  global:
//	    - PIP_DEPS="pytest pytest-cov flake8"
//	    - secure: "base64..."
//	  matrix:
//	    - TOXENV=py36
//	    - TOXENV=py37
//
// declares global variables plus a job matrix (one job per matrix row).
type EnvSpec struct {
	Global []EnvLine
	Matrix []string
}

func (e *EnvSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var lines []EnvLine
	if err := unmarshal(&lines); err == nil {
		*e = EnvSpec{Global: lines}
		return nil
	}

	var full struct {
		Global []EnvLine `yaml:"global"`
		Matrix []string  `yaml:"matrix"`
	}
	if err := unmarshal(&full); err != nil {
		return err
	}
	*e = EnvSpec{Global: full.Global, Matrix: full.Matrix}
	return nil
}

// EnvLine is one entry of an env list: either a KEY=value assignment or an
// encrypted secure entry that decrypts to such an assignment.
type EnvLine struct {
	Raw    string
	Secure string
}

func (l *EnvLine) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err == nil {
		*l = EnvLine{Raw: raw}
		return nil
	}

	var m struct {
		Secure string `yaml:"secure"`
	}
	if err := unmarshal(&m); err != nil {
		return err
	}
	if m.Secure == "" {
		return fmt.Errorf("env entry must be a KEY=value string or a secure entry")
	}
	*l = EnvLine{Secure: m.Secure}
	return nil
}

// Var is a resolved environment variable.
type Var struct {
	Key   string
	Value string
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseAssignment splits a KEY=value line. Values may be single- or
// double-quoted; the quotes are stripped.
func ParseAssignment(line string) (Var, error) {
	line = strings.TrimSpace(line)
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return Var{}, fmt.Errorf("env entry %q is not of the form KEY=value", line)
	}
	key = strings.TrimSpace(key)
	if !envKeyPattern.MatchString(key) {
		return Var{}, fmt.Errorf("invalid env variable name %q", key)
	}
	return Var{Key: key, Value: unquote(value)}, nil
}

// ParseRow splits a matrix row of space-separated assignments, respecting
// quoted values: `A=1 B="two words"` yields two variables.
func ParseRow(row string) ([]Var, error) {
	tokens, err := splitQuoted(row)
	if err != nil {
		return nil, err
	}
	vars := make([]Var, 0, len(tokens))
	for _, tok := range tokens {
		v, err := ParseAssignment(tok)
		if err != nil {
			return nil, fmt.Errorf("matrix row %q: %w", row, err)
		}
		vars = append(vars, v)
	}
	return vars, nil
}

// Expand substitutes $VAR and ${VAR} references using the provided lookup,
// falling back to the process environment.
func Expand(s string, vars []Var) string {
	byKey := make(map[string]string, len(vars))
	for _, v := range vars {
		byKey[v.Key] = v.Value
	}
	return os.Expand(s, func(key string) string {
		if val, ok := byKey[key]; ok {
			return val
		}
		return os.Getenv(key)
	})
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func splitQuoted(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote byte

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	flush()
	return tokens, nil
}
