// Package config handles YAML configuration parsing for the harness and
// its bug catalog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bugbase/internal/template"
)

// Config is the root configuration structure. It is constructed once by
// Load and passed by reference to every component that needs it.
type Config struct {
	Trigger   TriggerConfig       `yaml:"trigger"`
	Benchmark BenchmarkConfig     `yaml:"benchmark"`
	Utilities UtilitiesConfig     `yaml:"utilities,omitempty"`
	Programs  map[string]*Program `yaml:"programs"`

	path string
}

// TriggerConfig holds the directories and patterns shared by all triggers.
type TriggerConfig struct {
	CoreDumpLocation string `yaml:"core_dump_location"`
	CoreDumpPattern  string `yaml:"core_dump_pattern"`
	ResultsDir       string `yaml:"results_dir"`
	WorkloadDir      string `yaml:"workload_dir"`
}

// BenchmarkConfig bounds every benchmark strategy run.
type BenchmarkConfig struct {
	WantedResults int `yaml:"wanted_results"`
	KeptRuns      int `yaml:"kept_runs"`
	MaximumTries  int `yaml:"maximum_tries"`
}

// UtilitiesConfig points at external tools some plugins wrap.
type UtilitiesConfig struct {
	RecordTool string `yaml:"record_tool"` // e.g. path to rr
}

// HelperConfig describes the concurrent client workers of a client/server
// scenario.
type HelperConfig struct {
	Kind       string `yaml:"kind"` // "url" or "counter"
	Count      int    `yaml:"count"`
	Iterations int    `yaml:"iterations"`
	URL        string `yaml:"url"`     // url helpers, may contain ${port}, ${iteration}
	Key        string `yaml:"key"`     // counter helpers
	RPS        int    `yaml:"rps"`     // optional request throttle, 0 = unlimited
	Extract    string `yaml:"extract"` // optional JSON path extracted from the last response
}

// Program describes one reproducible bug scenario for one target program.
type Program struct {
	Name             string            `yaml:"-"`
	InstallDirectory string            `yaml:"install_directory"`
	Executable       string            `yaml:"executable"`
	ListeningPort    int               `yaml:"listening_port"`
	ExpectedFailure  int               `yaml:"expected_failure"`
	FailureCmd       string            `yaml:"failure_cmd"`
	SuccessCmd       string            `yaml:"success_cmd"`
	StartCmd         string            `yaml:"start_cmd"`
	StopCmd          string            `yaml:"stop_cmd"`
	Delay            time.Duration     `yaml:"delay"`
	Timeout          time.Duration     `yaml:"timeout"`
	ErrorPattern     string            `yaml:"error_pattern"`
	Helper           *HelperConfig     `yaml:"helper,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	Options          map[string]string `yaml:"options,omitempty"`

	// Benchmark overrides. Some triggers need a heavier input or more
	// helper iterations to produce measurable timings.
	BenchmarkCmd         string `yaml:"benchmark_cmd,omitempty"`
	BenchmarkURL         string `yaml:"benchmark_url,omitempty"`
	BenchmarkIterations  int    `yaml:"benchmark_iterations,omitempty"`
	BenchmarkWorkloadMiB int    `yaml:"benchmark_workload,omitempty"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}
	if err := cfg.Reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the file Load parsed, replacing the previous contents.
func (c *Config) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	next := Config{path: c.path}
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	next.applyDefaults()
	*c = next
	return nil
}

func (c *Config) applyDefaults() {
	if c.Benchmark.WantedResults == 0 {
		c.Benchmark.WantedResults = 20
	}
	if c.Benchmark.KeptRuns == 0 {
		c.Benchmark.KeptRuns = 10
	}
	if c.Benchmark.MaximumTries == 0 {
		c.Benchmark.MaximumTries = 100
	}
	if c.Trigger.CoreDumpPattern == "" {
		c.Trigger.CoreDumpPattern = "core-%e"
	}
	for name, prog := range c.Programs {
		prog.Name = name
		if prog.Delay == 0 {
			prog.Delay = 2 * time.Second
		}
	}
}

// BenchmarkLog returns the path of the append-only benchmark result log.
func (c *Config) BenchmarkLog() string {
	return filepath.Join(c.Trigger.ResultsDir, "benchmark.log")
}

// Program looks up a bug scenario by name.
func (c *Config) Program(name string) (*Program, bool) {
	prog, ok := c.Programs[name]
	return prog, ok
}

// InstalledPrograms returns the names of all catalogued programs whose
// install directory exists, in sorted order.
func (c *Config) InstalledPrograms() []string {
	names := make([]string, 0, len(c.Programs))
	for name, prog := range c.Programs {
		if prog.Installed() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Installed reports whether the program's install directory exists. This
// is the only installation signal the run loop consumes.
func (p *Program) Installed() bool {
	info, err := os.Stat(p.InstallDirectory)
	return err == nil && info.IsDir()
}

// ExecutablePath returns the absolute path of the program binary.
func (p *Program) ExecutablePath() string {
	if filepath.IsAbs(p.Executable) {
		return p.Executable
	}
	return filepath.Join(p.InstallDirectory, p.Executable)
}

// Vars returns the substitution variables every command and helper URL of
// this program may use. Options entries are included verbatim.
func (p *Program) Vars() template.Variables {
	vars := template.Variables{
		"executable":        p.ExecutablePath(),
		"install_directory": p.InstallDirectory,
		"port":              p.ListeningPort,
	}
	for k, v := range p.Options {
		vars[k] = v
	}
	return vars
}

// CorePath resolves the expected coredump location for the program,
// substituting %e with the executable base name and %E with its full
// path, slashes replaced by '!', as the kernel core_pattern does.
func (c *Config) CorePath(p *Program) string {
	pattern := c.Trigger.CoreDumpPattern
	pattern = strings.ReplaceAll(pattern, "%E", strings.ReplaceAll(p.ExecutablePath(), "/", "!"))
	pattern = strings.ReplaceAll(pattern, "%e", filepath.Base(p.Executable))
	return filepath.Join(c.Trigger.CoreDumpLocation, pattern)
}
