// fiberstate-demo runs a simulated fiber host that publishes request
// contexts for fiberstate-inspect to observe.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mrzor/fiberstate/arena"
	"github.com/mrzor/fiberstate/fiber"
	"github.com/mrzor/fiberstate/host"
	"github.com/mrzor/fiberstate/internal/bpfmap"
	"github.com/mrzor/fiberstate/internal/config"
	"github.com/mrzor/fiberstate/internal/descriptor"
	"github.com/mrzor/fiberstate/internal/logging"
	"github.com/mrzor/fiberstate/managed"
	"github.com/mrzor/fiberstate/publish"
	"github.com/mrzor/fiberstate/state"
	"go.uber.org/zap"
)

const (
	// stepsPerRequest is how many times a request fiber yields.
	stepsPerRequest = 5
	stepPause       = 20 * time.Millisecond
)

var verbs = []string{"get", "post", "put"}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, config.ErrHelp) {
			fmt.Println(err)
			return
		}
		log.Fatalf("Error: %v", err)
	}
}

// demo is the simulated host process.
type demo struct {
	cfg    *config.DemoConfig
	rt     *host.Runtime
	cells  *bpfmap.Cells
	logger *zap.Logger

	threads  []*host.Thread
	requests atomic.Int64
	symbols  int
}

func setLoggers(logger *zap.Logger) {
	arena.SetLogger(logger.Named("arena"))
	fiber.SetLogger(logger.Named("fiber"))
	publish.SetLogger(logger.Named("publish"))
	managed.SetLogger(logger.Named("managed"))
	host.SetLogger(logger.Named("host"))
}

// setupThreads creates the scheduler threads and binds a worker context to
// each root unit, so a thread publishes something between requests.
func (d *demo) setupThreads() error {
	for i := range d.cfg.Threads {
		//nolint:gosec // Thread count is small
		t, err := d.rt.NewThread(uint32(i+1), publish.WithLogger(d.logger.Named("publish")))
		if err != nil {
			return err
		}
		d.threads = append(d.threads, t)

		worker, err := d.rt.Construct(
			host.KV{Key: d.rt.Sym("worker"), Value: managed.Int(int64(i + 1))},
			host.KV{Key: d.rt.Sym("role"), Value: d.rt.Sym("idle")},
		)
		if err != nil {
			return err
		}
		if _, err := t.Apply(worker); err != nil {
			return err
		}

		if d.cells != nil {
			if err := d.cells.Publish(t.ID(), uint64(t.Synchronizer().CellAddr())); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeDescriptor rewrites the descriptor when new symbols were interned.
func (d *demo) writeDescriptor() error {
	if n := d.rt.Symbols.Len(); n == d.symbols {
		return nil
	}

	desc := descriptor.New(os.Getpid())
	for _, t := range d.threads {
		desc.AddThread(t.ID(), uint64(t.Synchronizer().CellAddr()))
	}
	desc.SetSymbols(d.rt.Symbols.All())
	if d.cells != nil {
		desc.BPFPin = d.cells.PinPath()
	}

	if err := descriptor.Write(d.cfg.Descriptor, desc); err != nil {
		return err
	}
	d.symbols = d.rt.Symbols.Len()
	d.logger.Info("Descriptor written",
		zap.String("path", d.cfg.Descriptor),
		zap.Int("threads", len(desc.Threads)),
		zap.Int("symbols", d.symbols),
	)
	return nil
}

// serve handles one request: it publishes a fresh context, then derives a
// new one after every yield.
func (d *demo) serve(t *host.Thread, id int64) func(*fiber.Fiber) error {
	return func(f *fiber.Fiber) error {
		payload := d.rt.Heap.Alloc(fmt.Sprintf("request %d body", id))
		ctx, err := d.rt.Construct(
			host.KV{Key: d.rt.Sym("request_id"), Value: managed.Int(id)},
			host.KV{Key: d.rt.Sym("verb"), Value: d.rt.Sym(verbs[id%int64(len(verbs))])},
			host.KV{Key: d.rt.Sym("payload"), Value: payload},
		)
		if err != nil {
			return err
		}
		if _, err := t.Apply(ctx); err != nil {
			return err
		}

		for step := 1; step <= stepsPerRequest; step++ {
			time.Sleep(stepPause)
			if err := f.Yield(); err != nil {
				if errors.Is(err, fiber.ErrStopped) {
					return nil
				}
				return err
			}

			// The binding, not a local, is the live reference.
			next, err := d.rt.Derive(t.CurrentState(),
				host.KV{Key: d.rt.Sym("step"), Value: managed.Int(int64(step))},
			)
			if err != nil {
				return err
			}
			if _, err := t.Apply(next); err != nil {
				return err
			}
		}
		return nil
	}
}

// round spawns a batch of requests on every thread and runs the threads
// until the batch is done. The managed heap is only collected between
// rounds, when no fiber holds a reference outside its storage.
func (d *demo) round(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range d.threads {
		for range d.cfg.Fibers {
			t.Spawn(d.serve(t, d.requests.Add(1)))
		}
		wg.Go(func() {
			if err := t.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("thread %d: %w", t.ID(), err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *demo) loop(ctx context.Context) error {
	lastCollect := time.Now()
	for ctx.Err() == nil {
		if err := d.round(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}

		if time.Since(lastCollect) >= d.cfg.CollectEvery {
			stats := d.rt.Collect()
			d.logger.Info("Collected managed heap",
				zap.Int("live", stats.Live),
				zap.Int("freed", stats.Freed),
				zap.Int("moved", stats.Moved),
				zap.Int("tables", d.rt.States.Live()),
				zap.Duration("took", stats.Duration),
			)
			lastCollect = time.Now()
		}

		if err := d.writeDescriptor(); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) close() {
	for _, t := range d.threads {
		t.Close()
		if d.cells != nil {
			if err := d.cells.Withdraw(t.ID()); err != nil {
				d.logger.Warn("Withdrawing cell", zap.Uint32("thread", t.ID()), zap.Error(err))
			}
		}
	}
}

func run() error {
	envCfg, err := config.ParseEnv()
	if err != nil {
		return err
	}

	cfg, err := config.ParseDemoArgs(os.Args, envCfg)
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
	setLoggers(logger)

	a := arena.New(
		arena.WithChunkSize(envCfg.ArenaChunk),
		arena.WithLimit(envCfg.ArenaLimit),
		arena.WithLogger(logger.Named("arena")),
	)
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Error closing arena", zap.Error(err))
		}
	}()

	d := &demo{
		cfg:    cfg,
		rt:     host.NewRuntime(state.NewHeap(a)),
		logger: logger,
	}

	if cfg.BPFPin != "" {
		cells, err := bpfmap.New(bpfmap.Options{PinPath: cfg.BPFPin})
		if err != nil {
			return err
		}
		defer func() {
			if err := cells.Close(); err != nil {
				logger.Error("Error closing cell map", zap.Error(err))
			}
		}()
		d.cells = cells
	}

	if err := d.setupThreads(); err != nil {
		return err
	}
	defer d.close()

	for _, name := range []string{"request_id", "verb", "payload", "step"} {
		d.rt.Symbols.Intern(name)
	}
	for _, verb := range verbs {
		d.rt.Symbols.Intern(verb)
	}
	if err := d.writeDescriptor(); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Descriptor); err != nil {
			logger.Warn("Removing descriptor", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	logger.Info("Starting fiberstate-demo",
		zap.Int("pid", os.Getpid()),
		zap.Int("threads", cfg.Threads),
		zap.Int("fibers", cfg.Fibers),
	)
	return d.loop(ctx)
}
