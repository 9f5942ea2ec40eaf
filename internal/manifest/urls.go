package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Platform identifies the target system an artifact is built for.
type Platform struct {
	// OS is "linux" or "darwin".
	OS string
	// Arch is "x86_64" or "aarch64".
	Arch string
}

// Known package families with default URL templates.
const (
	FamilyElasticsearch = "elasticsearch"
	FamilyOpenSearch    = "opensearch"
	FamilyQuickwit      = "quickwit"
)

var errNoURLTemplate = errors.New("no URL template for package family")

// DefaultPlatform maps the running system onto artifact platform spelling.
func DefaultPlatform() Platform {
	arch := "x86_64"
	if runtime.GOARCH == "arm64" {
		arch = "aarch64"
	}

	return Platform{OS: runtime.GOOS, Arch: arch}
}

// DefaultURL computes the canonical download URL for a release of a known
// family. Elasticsearch URL shape depends on the major version: old releases
// lived under download.elastic.co and only 7+ carry platform suffixes.
func DefaultURL(family, version string, p Platform) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("parse version %q: %w", version, err)
	}

	switch family {
	case FamilyElasticsearch:
		return elasticsearchURL(v, p), nil
	case FamilyOpenSearch:
		return opensearchURL(v, p), nil
	case FamilyQuickwit:
		return quickwitURL(v, p), nil
	default:
		return "", fmt.Errorf("%q: %w", family, errNoURLTemplate)
	}
}

func elasticsearchURL(v *semver.Version, p Platform) string {
	switch {
	case v.Major() <= 1:
		return fmt.Sprintf(
			"https://download.elastic.co/elasticsearch/elasticsearch/elasticsearch-%s.tar.gz", v)
	case v.Major() <= 4:
		return fmt.Sprintf(
			"https://download.elastic.co/elasticsearch/release/org/elasticsearch/distribution/tar/elasticsearch/%s/elasticsearch-%s.tar.gz",
			v, v)
	case v.Major() <= 6:
		return fmt.Sprintf(
			"https://artifacts.elastic.co/downloads/elasticsearch/elasticsearch-%s.tar.gz", v)
	case v.Major() == 7:
		// 7.x published x86_64 archives only.
		return fmt.Sprintf(
			"https://artifacts.elastic.co/downloads/elasticsearch/elasticsearch-%s-%s-x86_64.tar.gz",
			v, p.OS)
	default:
		return fmt.Sprintf(
			"https://artifacts.elastic.co/downloads/elasticsearch/elasticsearch-%s-%s-%s.tar.gz",
			v, p.OS, p.Arch)
	}
}

func opensearchURL(v *semver.Version, p Platform) string {
	// OpenSearch spells architectures x64/arm64 and ships the minimal
	// distribution for Linux only.
	arch := "x64"
	if p.Arch == "aarch64" {
		arch = "arm64"
	}

	return fmt.Sprintf(
		"https://artifacts.opensearch.org/releases/core/opensearch/%s/opensearch-min-%s-linux-%s.tar.gz",
		v, v, arch)
}

func quickwitURL(v *semver.Version, p Platform) string {
	system := "unknown-linux-gnu"
	if p.OS == "darwin" {
		system = "apple-darwin"
	}

	return fmt.Sprintf(
		"https://github.com/quickwit-oss/quickwit/releases/download/v%s/quickwit-v%s-%s-%s.tar.gz",
		v, v, p.Arch, system)
}

// versionPattern matches a semantic version embedded in a tag or release name.
var versionPattern = regexp.MustCompile(`^.*?(?P<version>[0-9]+\.[0-9]+\.[0-9]+(-[a-z0-9]+)?).*$`)

// beta/rc suffix normalizer: upstream tags like "6.0.0.Beta1" become "6.0.0-beta1".
var prereleaseNormalizer = regexp.MustCompile(`\.(Beta|RC)`)

// ExtractVersion pulls a normalized semantic version out of a tag or release
// name ("v8.13.4", "6.0.0.RC1"). The second return value reports success.
func ExtractVersion(name string) (string, bool) {
	normalized := prereleaseNormalizer.ReplaceAllStringFunc(name, func(s string) string {
		switch s {
		case ".Beta":
			return "-beta"
		case ".RC":
			return "-rc"
		default:
			return s
		}
	})

	match := versionPattern.FindStringSubmatch(normalized)
	if match == nil {
		return "", false
	}

	return match[versionPattern.SubexpIndex("version")], true
}
