// Package main provides the born compute CLI: device discovery, backend
// coverage reports and host/device round-trip checks.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/compute/internal/backend/cpu"
	"github.com/born-ml/compute/internal/backend/stub"
	"github.com/born-ml/compute/internal/backend/webgpu"
	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/tensor"
)

const version = "v0.1.0-dev"

const usage = `Usage: born [global flags] <command> [flags]

Commands:
  version     Show version
  devices     List GPU adapters
  coverage    Report which operations a backend implements
  roundtrip   Upload, compute, read back and save tensors
  inspect     List the tensors of a safetensors file
  serve       Expose Prometheus metrics and the coverage report over HTTP

Global flags:
`

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globals are the flags accepted before the command name.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("born", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globals
	fs.StringVar(&g.configPath, "config", "", "YAML config file")
	fs.StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "", "log format override (console, json)")
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(g)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "born: %v\n", err)
		return 1
	}
	logger.SetupWriter(stderr, cfg.Log.Level, cfg.Log.Format)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "version":
		_, _ = fmt.Fprintf(stdout, "born compute %s\n", version)
		return 0
	case "devices":
		err = cmdDevices(rest, cfg, stdout, stderr)
	case "coverage":
		err = cmdCoverage(rest, cfg, stdout, stderr)
	case "roundtrip":
		err = cmdRoundtrip(rest, cfg, stdout, stderr)
	case "inspect":
		err = cmdInspect(rest, stdout, stderr)
	case "serve":
		err = cmdServe(rest, cfg, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "born: unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		logger.Log.Error("command failed", "command", cmd, "err", err)
		_, _ = fmt.Fprintf(stderr, "born %s: %v\n", cmd, err)
		return 1
	}
}

func loadConfig(g globals) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, cfg.Validate()
}

// openBackend opens the named backend. The returned func releases it.
func openBackend(name string, cfg config.Config) (tensor.Device, func(), error) {
	switch name {
	case "cpu":
		return cpu.New(cfg.Parallel), func() {}, nil
	case "stub":
		return stub.New(), func() {}, nil
	case "webgpu":
		dev, err := webgpu.New(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.Release, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q (cpu, webgpu or stub)", errUsage, name)
	}
}

// backendFlags registers the flags shared by commands that open a backend.
func backendFlags(fs *flag.FlagSet, cfg *config.Config) *string {
	backend := fs.String("backend", "webgpu", "backend to use: cpu, webgpu or stub")
	fs.StringVar(&cfg.Device.Driver, "driver", cfg.Device.Driver, "webgpu driver: auto, native or soft")
	fs.IntVar(&cfg.Device.Ordinal, "ordinal", cfg.Device.Ordinal, "webgpu adapter ordinal")
	return backend
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("born "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
