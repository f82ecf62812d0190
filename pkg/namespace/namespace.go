// Package namespace provides environment-aware cache key qualification.
// Every component that touches the cache store derives its keys through
// Qualify, so keys from different environments can never collide.
package namespace

import (
	"errors"
	"fmt"
)

// ErrMisconfigured indicates an environment that cannot produce safe keys,
// e.g. a preview environment without a discriminator.
var ErrMisconfigured = errors.New("namespace misconfigured")

// Kind identifies the class of environment a process runs in.
type Kind string

const (
	// Production is the live site. Keys are used as-is, without a prefix.
	Production Kind = "production"

	// Preview is a per-deploy preview environment (e.g. a branch deploy).
	Preview Kind = "preview"

	// Local is a developer machine.
	Local Kind = "local"
)

// Environment describes the namespace all cache operations run under.
// It is resolved once at process startup and passed down explicitly;
// core logic never reads it from ambient process state.
type Environment struct {
	// Kind is the environment class.
	Kind Kind

	// Discriminator isolates non-production environments from each other
	// (preview build identifier, local developer identity). It must be
	// empty for production and non-empty otherwise.
	Discriminator string
}

// Validate checks the production/discriminator invariant.
// It is called at startup so a misconfigured process fails fast instead
// of silently writing into the production namespace.
func (e Environment) Validate() error {
	switch e.Kind {
	case Production:
		if e.Discriminator != "" {
			return fmt.Errorf("%w: production must not carry a discriminator (got %q)", ErrMisconfigured, e.Discriminator)
		}
	case Preview, Local:
		if e.Discriminator == "" {
			return fmt.Errorf("%w: %s environment requires a discriminator", ErrMisconfigured, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown environment kind %q", ErrMisconfigured, e.Kind)
	}
	return nil
}

// IsProduction reports whether this is the live environment.
func (e Environment) IsProduction() bool {
	return e.Kind == Production
}

// Qualify derives the fully-qualified cache key for a logical key.
// Production keys pass through unchanged; all other environments are
// prefixed with kind and discriminator.
//
// Example:
//
//	Qualify("contributions:user", Environment{Kind: Preview, Discriminator: "pr-142"})
//	// "preview:pr-142:contributions:user"
func Qualify(logicalKey string, env Environment) string {
	if env.Kind == Production {
		return logicalKey
	}
	return fmt.Sprintf("%s:%s:%s", env.Kind, env.Discriminator, logicalKey)
}
