package recipe

// javaDirs is the upstream distribution layout shared by the Java engines.
// Downstream tooling expects exactly these names.
var javaDirs = []string{"bin", "config", "lib", "modules", "plugins"}

// table holds one recipe per package family. Version-specific behavior is
// expressed through step constraints instead of per-version recipe copies.
//
//nolint:gochecknoglobals // The recipe table is static configuration.
var table = map[string]Recipe{
	"elasticsearch": {
		Family:        "elasticsearch",
		Dirs:          javaDirs,
		BinDir:        "bin",
		ServerBin:     "elasticsearch",
		EnvPrefix:     "ELASTICSEARCH",
		JavaEnvPrefix: "ES",
		JarsFrom:      "modules",
		Steps: []Step{
			{
				// Home-directory patch: pin the classpath to the install
				// location instead of the script-derived ES_HOME.
				Kind:       StepSubstitute,
				Path:       "bin/elasticsearch-env",
				Find:       `ES_CLASSPATH="$ES_HOME/lib/*"`,
				Replace:    `ES_CLASSPATH="` + InstallPathToken + `/lib/*"`,
				Constraint: ">= 6.4.0",
			},
			{
				Kind:       StepSubstitute,
				Path:       "bin/elasticsearch",
				Find:       `"$ES_HOME/bin/elasticsearch-keystore"`,
				Replace:    `"` + InstallPathToken + `/bin/elasticsearch-keystore"`,
				Constraint: ">= 6.0.0",
			},
			{
				// elasticsearch-cli only exists in some minor releases.
				Kind:       StepSubstitute,
				Path:       "bin/elasticsearch-plugin",
				Find:       `"$ES_HOME/bin/elasticsearch-cli"`,
				Replace:    `"` + InstallPathToken + `/bin/elasticsearch-cli"`,
				Optional:   true,
				Constraint: ">= 6.0.0",
			},
			{
				// The ML module needs native artifacts the packaging does
				// not provide yet.
				Kind:       StepExclude,
				Path:       "modules/x-pack-ml",
				Constraint: ">= 6.3.0",
			},
		},
	},
	"opensearch": {
		Family:        "opensearch",
		Dirs:          javaDirs,
		BinDir:        "bin",
		ServerBin:     "opensearch",
		EnvPrefix:     "OPENSEARCH",
		JavaEnvPrefix: "OPENSEARCH",
		JarsFrom:      "modules",
		Steps: []Step{
			{
				Kind:    StepSubstitute,
				Path:    "bin/opensearch-env",
				Find:    `OPENSEARCH_CLASSPATH="$OPENSEARCH_HOME/lib/*"`,
				Replace: `OPENSEARCH_CLASSPATH="` + InstallPathToken + `/lib/*"`,
			},
			{
				Kind:    StepSubstitute,
				Path:    "bin/opensearch",
				Find:    `"$OPENSEARCH_HOME/bin/opensearch-keystore"`,
				Replace: `"` + InstallPathToken + `/bin/opensearch-keystore"`,
			},
			{
				// Ships native agents that the packaging does not build.
				Kind: StepExclude,
				Path: "plugins/opensearch-performance-analyzer",
			},
		},
	},
	"opensearch-ltr": {
		// Learning-to-rank plugin: a jar bundle installed next to an
		// engine, never launched on its own.
		Family:    "opensearch-ltr",
		EnvPrefix: "OPENSEARCH_LTR",
	},
	"quickwit": {
		// Single static binary at the archive root; no Java environment.
		Family:    "quickwit",
		ServerBin: "quickwit",
		EnvPrefix: "QUICKWIT",
	},
}

// ForFamily returns the recipe bound to a package family.
func ForFamily(name string) (Recipe, bool) {
	r, ok := table[name]
	return r, ok
}
