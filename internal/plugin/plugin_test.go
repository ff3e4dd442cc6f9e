package plugin

import (
	"testing"

	"bugbase/internal/config"
	"bugbase/internal/trigger"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, p := range []Plugin{
		&Success{}, &Fail{}, &RecordPlugin{}, &Benchmark{}, &Overhead{},
	} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}
	return reg
}

func TestRegistry_Order(t *testing.T) {
	reg := defaultRegistry(t)
	want := []string{"success", "fail", "record", "benchmark", "overhead"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected registration order %v, got %v", want, got)
		}
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Success{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&Success{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistry_Capabilities(t *testing.T) {
	reg := defaultRegistry(t)

	tests := []struct {
		plugin string
		want   []string
	}{
		{"success", []string{"main"}},
		{"fail", []string{"main"}},
		{"record", []string{"main"}},
		{"benchmark", []string{"analysis"}},
		{"overhead", []string{"meta"}},
	}
	for _, tt := range tests {
		got := reg.Capabilities(tt.plugin)
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.plugin, tt.want, got)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%s: expected %v, got %v", tt.plugin, tt.want, got)
			}
		}
	}
}

func TestRegistry_CapabilityLookups(t *testing.T) {
	reg := defaultRegistry(t)

	if _, ok := reg.Main("success"); !ok {
		t.Error("success should be a main plugin")
	}
	if _, ok := reg.Main("benchmark"); ok {
		t.Error("benchmark must not be usable as a main plugin")
	}
	if _, ok := reg.Analysis("benchmark"); !ok {
		t.Error("benchmark should be an analysis plugin")
	}
	for _, name := range []string{"success", "fail", "record"} {
		if _, ok := reg.Analysis(name); ok {
			t.Errorf("%s owns its verdict and must not ride along as an analysis", name)
		}
	}
	if _, ok := reg.Meta("overhead"); !ok {
		t.Error("overhead should be a meta plugin")
	}
	if _, ok := reg.Lookup("nonexistent"); ok {
		t.Error("lookup of unregistered plugin must fail")
	}
}

func TestCommandTemplate(t *testing.T) {
	tests := []struct {
		name string
		prog *config.Program
		alt  string
		want string
	}{
		{"server always start", &config.Program{StartCmd: "start", SuccessCmd: "ok", FailureCmd: "boom"}, "ok", "start"},
		{"alternative", &config.Program{FailureCmd: "boom"}, "ok", "ok"},
		{"fallback", &config.Program{FailureCmd: "boom"}, "", "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandTemplate(tt.prog, tt.alt); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUseVariant_MissingBinary(t *testing.T) {
	trig := &trigger.Trigger{Program: &config.Program{
		Name:             "demo",
		InstallDirectory: t.TempDir(),
		Executable:       "bin/demo",
	}}
	if _, err := useVariant(trig, "success"); err == nil {
		t.Fatal("expected error for missing variant binary")
	}
}
