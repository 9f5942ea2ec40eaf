package resolver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/searchkit/enginepack/internal/manifest"
	"github.com/searchkit/enginepack/internal/recipe"
)

// UnknownFamilyError reports a manifest entry whose family has no recipe.
type UnknownFamilyError struct {
	// Name is the package family without an install recipe.
	Name string
}

func (e *UnknownFamilyError) Error() string {
	return fmt.Sprintf("no install recipe for package family %q", e.Name)
}

// Resolve binds (name, version) to its manifest spec and the recipe resolved
// for that version. Pure lookup plus version comparison: no filesystem or
// network side effects.
func Resolve(m *manifest.Manifest, name, version string) (manifest.Spec, recipe.Resolved, error) {
	spec, err := m.Lookup(name, version)
	if err != nil {
		return manifest.Spec{}, recipe.Resolved{}, err
	}

	v, err := semver.NewVersion(spec.Version)
	if err != nil {
		return manifest.Spec{}, recipe.Resolved{},
			fmt.Errorf("package %s: parse version %q: %w", name, spec.Version, err)
	}

	r, ok := recipe.ForFamily(name)
	if !ok {
		return manifest.Spec{}, recipe.Resolved{}, &UnknownFamilyError{Name: name}
	}

	resolved, err := r.Resolve(v)
	if err != nil {
		return manifest.Spec{}, recipe.Resolved{},
			fmt.Errorf("package %s %s: %w", name, version, err)
	}

	return spec, resolved, nil
}
