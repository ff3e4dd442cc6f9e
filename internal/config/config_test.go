package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bugbase.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const sampleConfig = `
trigger:
  core_dump_location: /var/crash
  results_dir: /tmp/results
programs:
  pbzip:
    install_directory: /opt/pbzip
    executable: bin/pbzip2
    expected_failure: 139
    failure_cmd: "${executable} -k -f input.tar"
  memcached:
    install_directory: /opt/memcached
    executable: bin/memcached
    listening_port: 11211
    start_cmd: "${executable} -p ${port}"
    stop_cmd: "pkill memcached"
    delay: 5s
    timeout: 2m
    helper:
      kind: counter
      count: 4
      iterations: 10000
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	prog, ok := cfg.Program("pbzip")
	if !ok {
		t.Fatal("pbzip not found")
	}
	if prog.Name != "pbzip" {
		t.Errorf("expected name pbzip, got %q", prog.Name)
	}
	if prog.ExpectedFailure != 139 {
		t.Errorf("expected failure code 139, got %d", prog.ExpectedFailure)
	}

	mc, _ := cfg.Program("memcached")
	if mc.Delay != 5*time.Second {
		t.Errorf("expected delay 5s, got %v", mc.Delay)
	}
	if mc.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", mc.Timeout)
	}
	if mc.Helper == nil || mc.Helper.Count != 4 {
		t.Errorf("unexpected helper %+v", mc.Helper)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Benchmark.WantedResults != 20 {
		t.Errorf("expected 20 wanted results, got %d", cfg.Benchmark.WantedResults)
	}
	if cfg.Benchmark.KeptRuns != 10 {
		t.Errorf("expected 10 kept runs, got %d", cfg.Benchmark.KeptRuns)
	}
	if cfg.Benchmark.MaximumTries != 100 {
		t.Errorf("expected 100 maximum tries, got %d", cfg.Benchmark.MaximumTries)
	}
	if cfg.Trigger.CoreDumpPattern != "core-%e" {
		t.Errorf("expected default core pattern, got %q", cfg.Trigger.CoreDumpPattern)
	}

	prog, _ := cfg.Program("pbzip")
	if prog.Delay != 2*time.Second {
		t.Errorf("expected default delay 2s, got %v", prog.Delay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "programs: [not a map")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	updated := sampleConfig + `
  curl:
    install_directory: /opt/curl
    executable: bin/curl
    failure_cmd: "${executable} --parallel"
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	if err := cfg.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := cfg.Program("curl"); !ok {
		t.Error("curl missing after reload")
	}
}

func TestInstalledPrograms(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, `
programs:
  zeta:
    install_directory: `+dir+`
    executable: bin/zeta
  alpha:
    install_directory: `+dir+`
    executable: bin/alpha
  ghost:
    install_directory: /nonexistent/ghost
    executable: bin/ghost
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := cfg.InstalledPrograms()
	want := []string{"alpha", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestVars(t *testing.T) {
	p := &Program{
		InstallDirectory: "/opt/memcached",
		Executable:       "bin/memcached",
		ListeningPort:    11211,
		Options:          map[string]string{"workload": "/tmp/input.tar"},
	}

	vars := p.Vars()
	if vars["executable"] != "/opt/memcached/bin/memcached" {
		t.Errorf("unexpected executable %v", vars["executable"])
	}
	if vars["port"] != 11211 {
		t.Errorf("unexpected port %v", vars["port"])
	}
	if vars["workload"] != "/tmp/input.tar" {
		t.Errorf("unexpected workload %v", vars["workload"])
	}
}

func TestCorePath(t *testing.T) {
	cfg := &Config{
		Trigger: TriggerConfig{
			CoreDumpLocation: "/var/crash",
			CoreDumpPattern:  "core-%e",
		},
	}
	p := &Program{InstallDirectory: "/opt/pbzip", Executable: "bin/pbzip2"}

	if got := cfg.CorePath(p); got != "/var/crash/core-pbzip2" {
		t.Errorf("unexpected core path %q", got)
	}

	cfg.Trigger.CoreDumpPattern = "core.%E"
	want := "/var/crash/core.!opt!pbzip!bin!pbzip2"
	if got := cfg.CorePath(p); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestExecutablePath_Absolute(t *testing.T) {
	p := &Program{InstallDirectory: "/opt/x", Executable: "/usr/bin/curl"}
	if got := p.ExecutablePath(); got != "/usr/bin/curl" {
		t.Errorf("unexpected path %q", got)
	}
}
