package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bdougie/restyle/internal/config"
)

const usage = `Usage: restyle [options]

  --config <file>          YAML configuration file
  --workdir <dir>          directory holding in/, interp/ and out/
  --stride <n>             frames per slide
  --backend <url>          generation backend endpoint (repeatable)
  --prompt <file>          prompt template for interpolated slides
  --anchor-prompt <file>   prompt template for anchor slides
  --scenes <file>          scene cut cache
  --gain <x>               mask gain
  --max-scenes <n>         scenes restyled at once
  --workers <n>            slides prepared at once per scene
  --video <file>           extract in/ frames from this video first
  --fps <x>                frame rate to extract at (default: every frame)
  --ledger <driver>        file, postgres or none
  --metrics <addr>         serve prometheus metrics on addr
  --probe                  check backends before starting
  --similar <slide>        after the run, list slides whose motion is
                           closest to this one (postgres ledger only)
  --verbose                debug logging`

var errUnknownOption = errors.New("unknown option")

// options are command-line settings that are not part of the config file.
type options struct {
	configPath string
	video      string
	fps        float64
	similar    int
	verbose    bool
}

// findConfig returns the --config value so the file can be loaded before
// the other options override it.
func findConfig(args []string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "--config" {
			return args[i+1]
		}
	}
	return ""
}

// parseArgs applies command-line overrides to cfg.
func parseArgs(args []string, cfg *config.Config) (options, error) {
	var opts options
	backends := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("option %s needs a value", arg)
			}
			i++
			return args[i], nil
		}

		var (
			v   string
			err error
		)
		switch arg {
		case "--probe":
			cfg.Backends.Probe = true
			continue
		case "--verbose", "-v":
			opts.verbose = true
			continue
		case "--config", "--workdir", "--stride", "--backend", "--prompt", "--anchor-prompt",
			"--scenes", "--gain", "--max-scenes", "--workers", "--video", "--fps", "--ledger", "--metrics", "--similar":
			if v, err = value(); err != nil {
				return opts, err
			}
		default:
			return opts, fmt.Errorf("%w: %s", errUnknownOption, arg)
		}

		switch arg {
		case "--config":
			opts.configPath = v
		case "--workdir":
			cfg.WorkDir = v
		case "--stride":
			cfg.Stride, err = strconv.Atoi(v)
		case "--backend":
			// The first --backend replaces the configured list
			if !backends {
				cfg.Backends.Endpoints = nil
				backends = true
			}
			cfg.Backends.Endpoints = append(cfg.Backends.Endpoints, v)
		case "--prompt":
			cfg.Prompt = v
		case "--anchor-prompt":
			cfg.AnchorPrompt = v
		case "--scenes":
			cfg.SceneCache = v
		case "--gain":
			cfg.MaskGain, err = strconv.ParseFloat(v, 64)
		case "--max-scenes":
			cfg.MaxScenes, err = strconv.Atoi(v)
		case "--workers":
			cfg.NodeWorkers, err = strconv.Atoi(v)
		case "--video":
			opts.video = v
		case "--fps":
			opts.fps, err = strconv.ParseFloat(v, 64)
		case "--ledger":
			cfg.Ledger.Driver = v
		case "--metrics":
			cfg.MetricsAddr = v
		case "--similar":
			opts.similar, err = strconv.Atoi(v)
			if err == nil && opts.similar < 1 {
				err = errors.New("slide numbers start at 1")
			}
		}
		if err != nil {
			return opts, fmt.Errorf("bad value for %s: %w", arg, err)
		}
	}
	return opts, nil
}

// checkOptions rejects option combinations the config cannot serve.
func checkOptions(opts options, cfg *config.Config) error {
	if opts.similar > 0 && cfg.Ledger.Driver != "postgres" {
		return fmt.Errorf("--similar needs the postgres ledger, not %q", cfg.Ledger.Driver)
	}
	return nil
}
