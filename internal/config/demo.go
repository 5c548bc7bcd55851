package config

import (
	"fmt"
	"strconv"
	"time"
)

// DemoConfig holds the parsed command line of fiberstate-demo.
type DemoConfig struct {
	Threads int
	// Fibers per thread.
	Fibers int
	// Duration to run for; zero runs until a signal.
	Duration time.Duration
	// CollectEvery is the managed heap collection interval.
	CollectEvery time.Duration
	Descriptor   string
	BPFPin       string
}

func demoUsage(programName string) string {
	return fmt.Sprintf(`Usage: %s [options]

Options:
  --threads N           Scheduler threads (default 2)
  --fibers N            Fibers per thread (default 4)
  --duration DURATION   Stop after DURATION (default: run until signal)
  --collect DURATION    Managed heap collection interval (default 1s)
  --descriptor PATH     Where to write the descriptor (env FIBERSTATE_DESCRIPTOR)
  --bpf-pin PATH        Also publish cells in a pinned BPF map (env FIBERSTATE_BPF_PIN)`,
		programName)
}

// ParseDemoArgs parses the demo's command line, falling back to envCfg.
func ParseDemoArgs(args []string, envCfg *EnvConfig) (*DemoConfig, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}
	if envCfg == nil {
		envCfg = &EnvConfig{}
	}

	usage := demoUsage(args[0])
	cfg := &DemoConfig{
		Threads:      2,
		Fibers:       4,
		CollectEvery: time.Second,
		Descriptor:   envCfg.Descriptor,
		BPFPin:       envCfg.BPFPin,
	}

	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "-h" || arg == "--help" {
			return nil, fmt.Errorf("%w\n\n%s", ErrHelp, usage)
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("%s requires a value\n\n%s", arg, usage)
		}
		i++
		v := args[i]

		var err error
		switch arg {
		case "--threads":
			cfg.Threads, err = positive(v)
		case "--fibers":
			cfg.Fibers, err = positive(v)
		case "--duration":
			cfg.Duration, err = time.ParseDuration(v)
		case "--collect":
			cfg.CollectEvery, err = time.ParseDuration(v)
			if err == nil && cfg.CollectEvery <= 0 {
				err = fmt.Errorf("must be positive")
			}
		case "--descriptor":
			cfg.Descriptor = v
		case "--bpf-pin":
			cfg.BPFPin = v
		default:
			return nil, fmt.Errorf("unknown argument %q\n\n%s", arg, usage)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %v\n\n%s", arg, v, err, usage)
		}
	}

	if cfg.Descriptor == "" {
		return nil, fmt.Errorf("no descriptor specified\n\n%s", usage)
	}
	return cfg, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
