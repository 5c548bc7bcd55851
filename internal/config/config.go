package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrHelp is returned when usage was requested.
var ErrHelp = errors.New("help requested")

// DefaultInterval is how often the inspector samples cells.
const DefaultInterval = 100 * time.Millisecond

// CustomAttribute is a user-defined span attribute computed from an
// expression over the observed context.
type CustomAttribute struct {
	Name       string
	Expression string
}

// Config holds the parsed command line of fiberstate-inspect.
type Config struct {
	// Pid of the writing process. Taken from the descriptor when zero.
	Pid int
	// Descriptor is the path of the TOML process descriptor.
	Descriptor string
	// BPFPin is the bpffs path of a pinned cell map.
	BPFPin string
	// Interval between samples.
	Interval time.Duration
	// Once takes a single sample of every thread and exits.
	Once bool
	// OTEL exports observed contexts as spans.
	OTEL bool
	// CustomAttributes are evaluated for every observed context.
	CustomAttributes []CustomAttribute
	// TraceID is an expression yielding the trace id of exported spans.
	TraceID string
	// ParentID is an expression yielding the parent span id of exported spans.
	ParentID string
}

func inspectUsage(programName string) string {
	return fmt.Sprintf(`Usage: %s [options]

Options:
  --pid N               Process to inspect (default: from descriptor)
  --descriptor PATH     Process descriptor (env FIBERSTATE_DESCRIPTOR)
  --bpf-pin PATH        Pinned BPF cell map (env FIBERSTATE_BPF_PIN)
  --interval DURATION   Sampling interval (default %s)
  --once                Sample every thread once and exit
  --otel                Export observed contexts as OpenTelemetry spans
  -a, --attribute NAME=EXPR
                        Add a span attribute computed from EXPR
  -t, --trace-id EXPR   Trace id expression for exported spans
  -p, --parent-id EXPR  Parent span id expression for exported spans
  -h, --help            Show this help

Expressions see ctx (map of key name to value), thread and size.
Example: %s --descriptor /run/app/fiberstate.toml -t 'ctx["request_id"]'`,
		programName, DefaultInterval, programName)
}

// ParseArgs parses the inspector's command line. Values not given on the
// command line fall back to envCfg.
func ParseArgs(args []string, envCfg *EnvConfig) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}
	if envCfg == nil {
		envCfg = &EnvConfig{}
	}

	programName := args[0]
	usage := inspectUsage(programName)
	cfg := &Config{Interval: DefaultInterval}

	for i := 1; i < len(args); i++ {
		arg := args[i]

		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value\n\n%s", arg, usage)
			}
			i++
			return args[i], nil
		}

		switch arg {
		case "-h", "--help":
			return nil, fmt.Errorf("%w\n\n%s", ErrHelp, usage)
		case "--pid":
			v, err := value()
			if err != nil {
				return nil, err
			}
			pid, err := strconv.Atoi(v)
			if err != nil || pid <= 0 {
				return nil, fmt.Errorf("invalid pid %q\n\n%s", v, usage)
			}
			cfg.Pid = pid
		case "--descriptor":
			v, err := value()
			if err != nil {
				return nil, err
			}
			cfg.Descriptor = v
		case "--bpf-pin":
			v, err := value()
			if err != nil {
				return nil, err
			}
			cfg.BPFPin = v
		case "--interval":
			v, err := value()
			if err != nil {
				return nil, err
			}
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("invalid interval %q\n\n%s", v, usage)
			}
			cfg.Interval = d
		case "--once":
			cfg.Once = true
		case "--otel":
			cfg.OTEL = true
		case "-a", "--attribute":
			v, err := value()
			if err != nil {
				return nil, err
			}
			attr, err := parseAttribute(v)
			if err != nil {
				return nil, fmt.Errorf("%w\n\n%s", err, usage)
			}
			cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
		case "-t", "--trace-id":
			v, err := value()
			if err != nil {
				return nil, err
			}
			cfg.TraceID = v
		case "-p", "--parent-id":
			v, err := value()
			if err != nil {
				return nil, err
			}
			cfg.ParentID = v
		default:
			return nil, fmt.Errorf("unknown argument %q\n\n%s", arg, usage)
		}
	}

	if cfg.Descriptor == "" {
		cfg.Descriptor = envCfg.Descriptor
	}
	if cfg.BPFPin == "" {
		cfg.BPFPin = envCfg.BPFPin
	}
	if envCfg.Attributes != "" {
		attrs, err := ParseAttributeString(envCfg.Attributes)
		if err != nil {
			return nil, fmt.Errorf("FIBERSTATE_ATTRIBUTES: %w", err)
		}
		cfg.CustomAttributes = append(attrs, cfg.CustomAttributes...)
	}

	if cfg.Descriptor == "" {
		return nil, fmt.Errorf("no descriptor specified\n\n%s", usage)
	}

	return cfg, nil
}

// parseAttribute parses NAME=EXPR. Only the first '=' separates.
func parseAttribute(s string) (CustomAttribute, error) {
	name, expr, ok := strings.Cut(s, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q, expected NAME=EXPR", s)
	}
	name = strings.TrimSpace(name)
	expr = strings.TrimSpace(expr)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: name cannot be empty", s)
	}
	if expr == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: expression cannot be empty", s)
	}
	return CustomAttribute{Name: name, Expression: expr}, nil
}

// ParseAttributeString parses semicolon-separated NAME=EXPR pairs.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var attrs []CustomAttribute
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		attr, err := parseAttribute(part)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}
