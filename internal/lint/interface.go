package lint

import (
	"plumerun/internal/manifest"
	"plumerun/internal/secret"
)

// Check is one advisory validation of a manifest. Checks never mutate the
// manifest and never touch the network.
type Check interface {
	ID() string
	Title() string
	Description() string

	Evaluate(in Input) (Result, error)
}

// Input is everything a check may look at.
type Input struct {
	Manifest *manifest.Manifest

	// Keybox opens "secure:" values. Nil when no key is configured.
	Keybox *secret.Keybox
}
