package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default returns the built-in configuration: jadx first, then cfr on the
// raw dex, then dex2jar staged into cfr.
func Default() *Config {
	return &Config{
		Workers:      0,
		SearchPaths:  []string{"."},
		CacheDir:     defaultCacheDir(),
		FetchTimeout: Duration{60 * time.Second},
		StepTimeout:  Duration{180 * time.Second},
		UnitPatterns: []string{"classes*.dex"},
		Tools: map[string]Tool{
			"java": {
				Sources: []Source{{Kind: SourceLocal, Location: "java"}},
			},
			"jadx": {
				Sources: []Source{
					{Kind: SourceLocal, Location: "jadx"},
					{Kind: SourceRemote, Location: "https://github.com/skylot/jadx/releases/download/v1.4.7/jadx-1.4.7.zip", Entry: "bin/jadx"},
				},
			},
			"cfr": {
				Runtime: "java",
				Sources: []Source{
					{Kind: SourceLocal, Location: "cfr.jar"},
					{Kind: SourceRemote, Location: "https://www.benf.org/other/cfr/cfr.jar"},
					{Kind: SourceRemote, Location: "https://github.com/leibnitz/cfr/releases/download/0.152/cfr.jar"},
					{Kind: SourceRemote, Location: "https://repo.maven.apache.org/maven2/org/benf/cfr/0.152/cfr-0.152.jar"},
				},
			},
			"dex2jar": {
				Sources: []Source{
					{Kind: SourceLocal, Location: "d2j-dex2jar"},
					{Kind: SourceLocal, Location: "d2j-dex2jar.sh"},
					{Kind: SourceRemote, Location: "https://github.com/ThexXTURBOXx/dex2jar/releases/download/v2.0/dex2jar-2.0.zip", Entry: "d2j-dex2jar.sh"},
				},
			},
		},
		Strategies: []Strategy{
			{
				Name:  "jadx",
				Steps: []Step{{Tool: "jadx", Args: []string{"-d", "{output}", "{input}"}}},
			},
			{
				Name:  "cfr",
				Steps: []Step{{Tool: "cfr", Args: []string{"{input}", "--outputdir", "{output}"}}},
			},
			{
				Name: "dex2jar-cfr",
				Steps: []Step{
					{
						Tool:     "dex2jar",
						Args:     []string{"{input}", "-o", "{work}/{stem}.jar", "--force"},
						Produces: "{work}/{stem}.jar",
					},
					{Tool: "cfr", Args: []string{"{work}/{stem}.jar", "--outputdir", "{output}"}},
				},
			},
		},
		Reconcile: Reconcile{
			SourceExtensions:      []string{".java", ".kt"},
			PlaceholderExtensions: []string{".kt"},
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "srcrecover", "tools")
	}
	return filepath.Join(".srcrecover", "tools")
}
