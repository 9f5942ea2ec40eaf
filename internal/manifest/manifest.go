package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Spec describes one fetchable package release.
// Specs are immutable once read and uniquely identified by (Name, Version).
type Spec struct {
	// Name is the package family, e.g. "elasticsearch".
	Name string `yaml:"name"`
	// Version is the semantic version of the release.
	Version string `yaml:"version"`
	// URL is the download location of the release archive.
	URL string `yaml:"url"`
	// SHA256 is the hex-encoded checksum of the archive.
	SHA256 string `yaml:"sha256"`
}

// Manifest is a read-only registry of package specs keyed by (name, version).
// It is loaded once at process start and never mutated afterwards.
type Manifest struct {
	specs map[string]map[string]Spec
}

// UnknownPackageError reports a lookup for a package family the manifest does not list.
type UnknownPackageError struct {
	// Name is the requested package family.
	Name string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.Name)
}

// UnknownVersionError reports a lookup for a version absent from a known package family.
type UnknownVersionError struct {
	// Name is the requested package family.
	Name string
	// Version is the requested version.
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("package %q has no version %q", e.Name, e.Version)
}

// New builds a registry from the provided specs.
// Later duplicates of the same (name, version) pair win.
func New(specs []Spec) *Manifest {
	m := &Manifest{specs: make(map[string]map[string]Spec, len(specs))}
	for _, s := range specs {
		versions, ok := m.specs[s.Name]
		if !ok {
			versions = make(map[string]Spec)
			m.specs[s.Name] = versions
		}

		versions[s.Version] = s
	}

	return m
}

// Load reads a manifest YAML file into a registry.
func Load(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var specs []Spec
	if err := yaml.Unmarshal(contents, &specs); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return New(specs), nil
}

// Save writes specs to a manifest YAML file,
// sorted by name and version so repeated writes diff cleanly.
func Save(path string, specs []Spec) error {
	sorted := make([]Spec, len(specs))
	copy(sorted, specs)
	sortSpecs(sorted)

	data, err := yaml.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, 0o644); err != nil { //nolint:gosec // Manifest is not a secret.
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Lookup returns the spec for (name, version).
// It fails with UnknownPackageError or UnknownVersionError, never partially.
func (m *Manifest) Lookup(name, version string) (Spec, error) {
	versions, ok := m.specs[name]
	if !ok {
		return Spec{}, &UnknownPackageError{Name: name}
	}

	spec, ok := versions[version]
	if !ok {
		return Spec{}, &UnknownVersionError{Name: name, Version: version}
	}

	return spec, nil
}

// Has reports whether the manifest already lists (name, version).
func (m *Manifest) Has(name, version string) bool {
	_, err := m.Lookup(name, version)
	return err == nil
}

// Names returns all package family names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.specs))
	for name := range m.specs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Versions returns the versions listed for a package family,
// sorted semantically where possible and lexically otherwise.
func (m *Manifest) Versions(name string) []string {
	versions := make([]string, 0, len(m.specs[name]))
	for v := range m.specs[name] {
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])

		if erri != nil || errj != nil {
			return versions[i] < versions[j]
		}

		return vi.LessThan(vj)
	})

	return versions
}

// Specs returns every spec in the registry, sorted by name and version.
func (m *Manifest) Specs() []Spec {
	specs := make([]Spec, 0, len(m.specs))
	for _, versions := range m.specs {
		for _, s := range versions {
			specs = append(specs, s)
		}
	}

	sortSpecs(specs)

	return specs
}

// sortSpecs orders specs by name, then semantic version.
func sortSpecs(specs []Spec) {
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Name != specs[j].Name {
			return specs[i].Name < specs[j].Name
		}

		vi, erri := semver.NewVersion(specs[i].Version)
		vj, errj := semver.NewVersion(specs[j].Version)

		if erri != nil || errj != nil {
			return specs[i].Version < specs[j].Version
		}

		return vi.LessThan(vj)
	})
}
