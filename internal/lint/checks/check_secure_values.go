package checks

import (
	"fmt"

	"plumerun/internal/lint"
	"plumerun/internal/manifest"
)

type SecureValuesCheck struct{}

func (c *SecureValuesCheck) ID() string {
	return "secure-values"
}

func (c *SecureValuesCheck) Title() string {
	return "Secure Values Decryptable"
}

func (c *SecureValuesCheck) Description() string {
	return "Verifies that every secure: entry in the manifest can be opened with the configured secret key, and that decrypted env entries are valid KEY=value assignments."
}

func (c *SecureValuesCheck) Evaluate(in lint.Input) (lint.Result, error) {
	var sealed []string
	for _, line := range in.Manifest.Env.Global {
		if line.Secure != "" {
			sealed = append(sealed, line.Secure)
		}
	}

	var deploySealed string
	if d := in.Manifest.Deploy; d != nil && d.Password.IsSealed() {
		deploySealed = d.Password.Sealed
	}

	if len(sealed) == 0 && deploySealed == "" {
		return lint.Pass(c.ID(), "no secure values"), nil
	}
	if in.Keybox == nil {
		return lint.Fail(c.ID(), "manifest has secure values but no secret key is configured"), nil
	}

	for i, s := range sealed {
		plain, err := in.Keybox.Open(s)
		if err != nil {
			return lint.Fail(c.ID(), fmt.Sprintf("secure env entry %d: %v", i+1, err)), nil
		}
		if _, err := manifest.ParseAssignment(plain); err != nil {
			return lint.Fail(c.ID(), fmt.Sprintf("secure env entry %d does not decrypt to KEY=value", i+1)), nil
		}
	}
	if deploySealed != "" {
		if _, err := in.Keybox.Open(deploySealed); err != nil {
			return lint.Fail(c.ID(), fmt.Sprintf("deploy password: %v", err)), nil
		}
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&SecureValuesCheck{})
}
