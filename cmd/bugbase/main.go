package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bugbase/internal/config"
	"bugbase/internal/orchestrator"
	"bugbase/internal/plugin"
	"bugbase/internal/progress"
)

const (
	ExitSuccess      = 0
	ExitPairFailed   = 1
	ExitError        = 2
	ExitNotInstalled = 3
)

func main() {
	configPath := flag.String("config", "", "path to the YAML bug catalog (required)")
	plugins := flag.String("plugins", "fail", "comma-separated main plugins to run")
	analyses := flag.String("analysis", "", "comma-separated analysis plugins to ride along")
	meta := flag.String("meta", "", "meta plugin composing the batch (e.g. overhead)")
	list := flag.Bool("list", false, "list registered plugins and catalogued programs")
	quiet := flag.Bool("quiet", false, "suppress progress output")
	verbose := flag.Bool("verbose", false, "enable debug output")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: --config is required")
		flag.Usage()
		os.Exit(ExitError)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitError)
	}

	display := progress.NewDisplay(*quiet)
	reg := registerPlugins(display)

	if *list {
		listAll(reg, cfg)
		os.Exit(ExitSuccess)
	}

	programs := flag.Args()
	if len(programs) == 0 {
		fmt.Fprintln(os.Stderr, "error: no programs given (use \"all\" for every installed program)")
		os.Exit(ExitError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if !*quiet {
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		}
		cancel()
	}()

	orch := &orchestrator.Orchestrator{Conf: cfg, Reg: reg, Log: log}
	sum, err := orch.Run(ctx, programs, split(*plugins), split(*analyses), *meta)
	display.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitError)
	}

	ran := len(sum.Pairs) - sum.Skipped()
	fmt.Fprintf(os.Stderr, "%d pairs run, %d failed, %d skipped\n", ran, sum.Failed(), sum.Skipped())
	os.Exit(exitStatus(sum))
}

// exitStatus maps a batch summary onto the process exit code. A skipped
// program still fails the batch: the caller asked for it and got no run.
func exitStatus(sum *orchestrator.Summary) int {
	switch {
	case sum.Failed() > 0:
		return ExitPairFailed
	case sum.Skipped() > 0:
		return ExitNotInstalled
	default:
		return ExitSuccess
	}
}

func registerPlugins(display *progress.Display) *plugin.Registry {
	reg := plugin.NewRegistry()
	reg.MustRegister(&plugin.Success{})
	reg.MustRegister(&plugin.Fail{})
	reg.MustRegister(&plugin.RecordPlugin{})
	reg.MustRegister(&plugin.Benchmark{Progress: func(done, total int) {
		display.Update(done, total)
	}})
	reg.MustRegister(&plugin.Overhead{})
	return reg
}

func listAll(reg *plugin.Registry, cfg *config.Config) {
	fmt.Println("plugins:")
	for _, name := range reg.Names() {
		fmt.Printf("  %-12s %s\n", name, strings.Join(reg.Capabilities(name), ", "))
	}
	fmt.Println("programs:")
	names := make([]string, 0, len(cfg.Programs))
	for name := range cfg.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "not installed"
		if cfg.Programs[name].Installed() {
			state = "installed"
		}
		fmt.Printf("  %-12s %s\n", name, state)
	}
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
