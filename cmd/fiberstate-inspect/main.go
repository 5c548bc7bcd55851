// fiberstate-inspect samples the fiber contexts another process publishes
// and reports every context interval as a log line or OpenTelemetry span.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrzor/fiberstate/internal/attributes"
	"github.com/mrzor/fiberstate/internal/bpfmap"
	"github.com/mrzor/fiberstate/internal/config"
	"github.com/mrzor/fiberstate/internal/descriptor"
	"github.com/mrzor/fiberstate/internal/eventprocessor"
	"github.com/mrzor/fiberstate/internal/eventstream"
	"github.com/mrzor/fiberstate/internal/logging"
	"github.com/mrzor/fiberstate/internal/otel"
	"github.com/mrzor/fiberstate/internal/output"
	"github.com/mrzor/fiberstate/internal/threadstate"
	"github.com/mrzor/fiberstate/reader"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, config.ErrHelp) {
			fmt.Println(err)
			return
		}
		log.Fatalf("Error: %v", err)
	}
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL(versionInfo string, pid int, logger *zap.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	otelCfg.TargetPid = pid

	tp, err := otel.InitProvider(otelCfg, versionInfo, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("ABORT: failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			logger.Error("Error shutting down OTEL provider", zap.Error(err))
		}
	}

	return tp.Tracer("fiberstate-inspect"), cleanup, nil
}

// setupCells returns where the cell addresses come from: the pinned BPF map
// when one is configured, the descriptor's thread list otherwise.
func setupCells(cfg *config.Config, desc *descriptor.Descriptor, logger *zap.Logger) (eventstream.CellSource, func(), error) {
	pin := cfg.BPFPin
	if pin == "" {
		pin = desc.BPFPin
	}

	if pin == "" {
		cells := make(map[uint32]uint64, len(desc.Threads))
		for _, t := range desc.Threads {
			cells[t.ID] = t.Cell
		}
		return eventstream.StaticCells(cells), func() {}, nil
	}

	m, err := bpfmap.OpenPinned(pin)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Reading cells from pinned map", zap.String("pin", pin))

	cleanup := func() {
		if err := m.Close(); err != nil {
			logger.Error("Error closing cell map", zap.Error(err))
		}
	}
	return m.Cells, cleanup, nil
}

// setupFormatter builds the log formatter and, with --otel, the span formatter.
func setupFormatter(cfg *config.Config, renderer *output.Renderer, tracer trace.Tracer, logger *zap.Logger) (output.ContextHandler, error) {
	handlers := output.Multi{output.NewLogFormatter(logger, renderer)}
	if tracer == nil {
		return handlers, nil
	}

	custom, err := attributes.NewEvaluator(cfg.CustomAttributes, logger)
	if err != nil {
		return nil, err
	}
	traceID, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return nil, err
	}
	parentID, err := attributes.NewParentIDEvaluator(cfg.ParentID)
	if err != nil {
		return nil, err
	}

	return append(handlers, output.NewOTELFormatter(tracer, renderer, custom, traceID, parentID, logger)), nil
}

func run() error {
	envCfg, err := config.ParseEnv()
	if err != nil {
		return err
	}

	cfg, err := config.ParseArgs(os.Args, envCfg)
	if err != nil {
		return err
	}

	logger, err := logging.New(envCfg.LogLevel, envCfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() //nolint:errcheck // Sync fails on terminals
	}()

	desc, err := descriptor.Read(cfg.Descriptor)
	if err != nil {
		return err
	}
	pid := cfg.Pid
	if pid == 0 {
		pid = desc.Pid
	}

	logger.Info("Starting fiberstate-inspect",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("pid", pid),
		zap.Int("threads", len(desc.Threads)),
	)

	mem, err := reader.NewProcessMemory(pid)
	if err != nil {
		return err
	}

	var tracer trace.Tracer
	if cfg.OTEL {
		var cleanupOTEL func()
		tracer, cleanupOTEL, err = setupOTEL(fmt.Sprintf("%s (%s)", version, commit), pid, logger)
		if err != nil {
			return err
		}
		defer cleanupOTEL()
	}

	cells, cleanupCells, err := setupCells(cfg, desc, logger)
	if err != nil {
		return err
	}
	defer cleanupCells()

	formatter, err := setupFormatter(cfg, output.NewRenderer(desc.SymbolNames()), tracer, logger)
	if err != nil {
		return err
	}

	processor := eventprocessor.NewProcessor(threadstate.NewManager(), formatter)
	stream := eventstream.New(reader.New(mem), cells, cfg.Interval, processor, logger)

	if cfg.Once {
		if err := stream.Poll(); err != nil {
			return err
		}
		return processor.Flush(time.Now())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stream.Start(ctx); err != nil {
		return fmt.Errorf("starting sampler: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Received signal, stopping")

	if err := stream.Stop(); err != nil {
		logger.Error("Error stopping sampler", zap.Error(err))
	}
	return processor.Flush(time.Now())
}
