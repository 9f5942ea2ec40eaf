package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// StepKind discriminates install transform steps.
type StepKind string

const (
	// StepSubstitute performs a literal find-and-replace inside one file.
	StepSubstitute StepKind = "substitute"
	// StepExclude removes a subpath from the assembled tree.
	// Removal is silent when the path is absent.
	StepExclude StepKind = "exclude"
)

// InstallPathToken is expanded to the final artifact root when a
// substitution step is applied. Scripts inside the distributions reference
// sibling tools relatively; the token pins them to the installed location.
const InstallPathToken = "{{install}}"

// Step is one declarative transform applied during install.
type Step struct {
	// Kind selects the transform.
	Kind StepKind
	// Path is the target file (substitute) or subpath (exclude),
	// relative to the assembled tree.
	Path string
	// Find is the literal text to replace (substitute only).
	Find string
	// Replace is the replacement text; may contain InstallPathToken.
	Replace string
	// Optional marks a substitution whose target file or pattern may be
	// absent in parts of the version range the recipe covers.
	Optional bool
	// Constraint is a semver range gating the step, e.g. ">= 6.4.0".
	// Empty means the step always applies. Bounds are inclusive on >=.
	Constraint string
}

// Recipe is the per-family install transform, expressed as data.
// Version differences live in step constraints, not in separate recipes.
type Recipe struct {
	// Family is the package family the recipe binds to.
	Family string
	// Dirs are the expected output directories, mirroring the upstream
	// layout. Nil means the whole extracted tree is taken as-is.
	Dirs []string
	// BinDir is the directory whose files receive executable bits.
	BinDir string
	// ServerBin is the launch entry point relative to BinDir.
	// Empty marks a family that is installed but never launched (plugins).
	ServerBin string
	// EnvPrefix names the engine in exported variables (ELASTICSEARCH_HOME...).
	EnvPrefix string
	// JavaEnvPrefix is the engine-specific prefix for Java variables
	// (ES_JAVA_HOME, OPENSEARCH_JAVA_OPTS). Empty for non-Java families.
	JavaEnvPrefix string
	// JarsFrom is the directory whose jar files feed the derived
	// modules-jars artifact. Empty disables the secondary artifact.
	JarsFrom string
	// Steps are applied in declared order after filtering by version.
	Steps []Step
}

// Resolved is a recipe bound to one concrete version: constraints have been
// evaluated and Steps holds only the applicable ones, in declared order.
type Resolved struct {
	Recipe

	// Version the recipe was resolved for.
	Version *semver.Version
	// Steps replaces Recipe.Steps with the applicable subset.
	Steps []Step
}

// Resolve evaluates all step constraints against the version once,
// so no version comparison happens during the install itself.
func (r Recipe) Resolve(v *semver.Version) (Resolved, error) {
	steps := make([]Step, 0, len(r.Steps))

	for _, step := range r.Steps {
		if step.Constraint == "" {
			steps = append(steps, step)
			continue
		}

		constraint, err := semver.NewConstraint(step.Constraint)
		if err != nil {
			return Resolved{}, fmt.Errorf("recipe %s, step %s %s: %w", r.Family, step.Kind, step.Path, err)
		}

		if constraint.Check(v) {
			steps = append(steps, step)
		}
	}

	return Resolved{Recipe: r, Version: v, Steps: steps}, nil
}

// Identity fingerprints the resolved transform. Together with the archive
// checksum it forms the artifact cache key: same spec plus same identity
// must always reproduce a byte-identical tree.
func (r Resolved) Identity() string {
	var b strings.Builder

	b.WriteString(r.Family)
	b.WriteByte('\n')
	b.WriteString(strings.Join(r.Dirs, ","))
	b.WriteByte('\n')
	b.WriteString(r.BinDir)
	b.WriteByte('\n')

	for _, step := range r.Steps {
		fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%s\x00%t\n",
			step.Kind, step.Path, step.Find, step.Replace, step.Optional)
	}

	sum := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(sum[:8])
}
