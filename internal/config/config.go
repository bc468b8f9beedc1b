// internal/config/config.go
//
// This package handles runtime configuration and the derivatives directory
// structure. Every dataset processed by unwarp gets a derivatives/unwarp/
// folder created under its root, holding scratch workspaces and run logs.

package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DerivName is the directory we create under <root>/derivatives.
	DerivName = "unwarp"

	envPrefix = "UNWARP_"
)

// Defaults applied when neither flags, environment, nor the config file
// supply a value.
var (
	defaultWorkers    = 2
	defaultThreads    = 1
	defaultAPKeywords = []string{"dir-ap", "_ap_", "_ap."}
	defaultPAKeywords = []string{"dir-pa", "_pa_", "_pa."}
)

// FileConfig models the optional YAML configuration file passed via --config.
type FileConfig struct {
	Root       string   `yaml:"root"`
	Runs       []string `yaml:"runs"`
	Workers    int      `yaml:"workers"`
	Threads    int      `yaml:"threads"`
	PEDir      string   `yaml:"pe_dir"`
	APKeywords []string `yaml:"ap_keywords"`
	PAKeywords []string `yaml:"pa_keywords"`
}

// Config holds the fully resolved runtime configuration. Precedence for every
// field is CLI flag > environment variable > config file > built-in default.
type Config struct {
	// Root is the dataset root containing sub-* directories.
	Root string

	// Runs lists the task/run labels to process for every subject/session.
	Runs []string

	// Workers bounds how many tasks execute concurrently.
	Workers int

	// Threads is passed through to each engine invocation.
	Threads int

	// PEDir optionally overrides the primary series' phase-encoding
	// direction ("j" or "j-"). Empty means "read it from the sidecar".
	PEDir string

	// APKeywords and PAKeywords drive the fallback keyword scan when the
	// canonical auxiliary-image names are absent.
	APKeywords []string
	PAKeywords []string

	// DryRun performs discovery and input resolution only.
	DryRun bool

	// Progress enables the live progress board.
	Progress bool
}

// DerivDir is <root>/derivatives/unwarp.
func (c *Config) DerivDir() string {
	return filepath.Join(c.Root, "derivatives", DerivName)
}

// WorkDir holds per-task scratch workspaces.
func (c *Config) WorkDir() string {
	return filepath.Join(c.DerivDir(), "work")
}

// LogDir holds the run log and the outcome ledger.
func (c *Config) LogDir() string {
	return filepath.Join(c.DerivDir(), "logs")
}

// InitDerivDir creates the derivatives directory structure under the dataset
// root. Called once before any task executes.
//
// Structure created:
// derivatives/unwarp/
// ├── work/   <- One scratch workspace per (subject, session, run)
// └── logs/   <- Run log and outcome ledger
func (c *Config) InitDerivDir() error {
	for _, dir := range []string{c.WorkDir(), c.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// Parse builds a Config from command-line arguments, the UNWARP_* environment
// variables, and an optional YAML file. Usage and parse errors are written to
// out. flag.ErrHelp is returned unwrapped so callers can exit 0 on -h.
func Parse(args []string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("unwarp", flag.ContinueOnError)
	fs.SetOutput(out)

	root := fs.String("root", "", "dataset root directory (required)")
	runs := fs.String("runs", "", "comma-separated run labels to process (required)")
	workers := fs.Int("workers", defaultWorkers, "maximum concurrently executing tasks")
	threads := fs.Int("threads", defaultThreads, "threads per engine invocation")
	peDir := fs.String("pe-dir", "", "phase-encoding direction override (j or j-)")
	apKeywords := fs.String("ap-keywords", "", "comma-separated keywords identifying AP auxiliary images")
	paKeywords := fs.String("pa-keywords", "", "comma-separated keywords identifying PA auxiliary images")
	configFile := fs.String("config", "", "path to YAML config file")
	dryRun := fs.Bool("dry-run", false, "discover and resolve inputs only, do not run the engine")
	progress := fs.Bool("progress", false, "show the live progress board")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Workers:    defaultWorkers,
		Threads:    defaultThreads,
		APKeywords: defaultAPKeywords,
		PAKeywords: defaultPAKeywords,
	}

	if *configFile != "" {
		if err := cfg.applyFile(*configFile); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// Flags set explicitly on the command line win over everything else.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["root"] {
		cfg.Root = *root
	}
	if set["runs"] {
		cfg.Runs = splitList(*runs)
	}
	if set["workers"] {
		cfg.Workers = *workers
	}
	if set["threads"] {
		cfg.Threads = *threads
	}
	if set["pe-dir"] {
		cfg.PEDir = *peDir
	}
	if set["ap-keywords"] {
		cfg.APKeywords = splitList(*apKeywords)
	}
	if set["pa-keywords"] {
		cfg.PAKeywords = splitList(*paKeywords)
	}
	cfg.DryRun = *dryRun
	cfg.Progress = *progress

	if err := cfg.validate(); err != nil {
		fs.Usage()
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.Root != "" {
		c.Root = fc.Root
	}
	if len(fc.Runs) > 0 {
		c.Runs = fc.Runs
	}
	if fc.Workers > 0 {
		c.Workers = fc.Workers
	}
	if fc.Threads > 0 {
		c.Threads = fc.Threads
	}
	if fc.PEDir != "" {
		c.PEDir = fc.PEDir
	}
	if len(fc.APKeywords) > 0 {
		c.APKeywords = fc.APKeywords
	}
	if len(fc.PAKeywords) > 0 {
		c.PAKeywords = fc.PAKeywords
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv(envPrefix + "RUNS"); v != "" {
		c.Runs = splitList(v)
	}
	if v := os.Getenv(envPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv(envPrefix + "THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Threads = n
		}
	}
	if v := os.Getenv(envPrefix + "PE_DIR"); v != "" {
		c.PEDir = v
	}
	if v := os.Getenv(envPrefix + "AP_KEYWORDS"); v != "" {
		c.APKeywords = splitList(v)
	}
	if v := os.Getenv(envPrefix + "PA_KEYWORDS"); v != "" {
		c.PAKeywords = splitList(v)
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("config: --root is required")
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("config: dataset root %s: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: dataset root %s is not a directory", c.Root)
	}
	if len(c.Runs) == 0 {
		return fmt.Errorf("config: --runs is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: --workers must be >= 1, got %d", c.Workers)
	}
	if c.Threads < 1 {
		return fmt.Errorf("config: --threads must be >= 1, got %d", c.Threads)
	}
	switch c.PEDir {
	case "", "j", "j-":
	default:
		return fmt.Errorf("config: --pe-dir must be j or j-, got %q", c.PEDir)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
