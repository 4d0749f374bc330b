package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/wasmkernel/internal/auditlog"
	"github.com/oriys/wasmkernel/internal/config"
	"github.com/oriys/wasmkernel/internal/engine"
	"github.com/oriys/wasmkernel/internal/eventbus"
	"github.com/oriys/wasmkernel/internal/hostbridge"
	"github.com/oriys/wasmkernel/internal/interfaceid"
	"github.com/oriys/wasmkernel/internal/introspect"
	"github.com/oriys/wasmkernel/internal/logging"
	"github.com/oriys/wasmkernel/internal/metrics"
	"github.com/oriys/wasmkernel/internal/observability"
	"github.com/oriys/wasmkernel/internal/pkg/fsutil"
	"github.com/oriys/wasmkernel/internal/process"
	"github.com/oriys/wasmkernel/internal/signature"

	"google.golang.org/grpc"
)

// procData is the per-process bookkeeping the scheduler carries alongside
// each ProcessHandle; threadData is the equivalent for individual threads.
// Neither needs more than a timestamp for this daemon's own purposes — a
// real deployment's caller would plug in whatever it needs via the same
// type parameter.
type procData struct {
	StartedAt time.Time
}

type threadData struct{}

func runCmd() *cobra.Command {
	var (
		logLevel   string
		modulePath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Instantiate a WASM module as a process and run it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if modulePath == "" && len(args) > 0 {
				modulePath = args[0]
			}
			if modulePath == "" {
				return fmt.Errorf("a module path is required: wasmkerneld run <module.wasm>")
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			if cfg.Logging.TerminationDir != "" {
				if err := logging.InitTerminationStore(
					cfg.Logging.TerminationDir,
					cfg.Logging.TerminationMaxDetailBytes,
					cfg.Logging.TerminationRetentionSeconds,
				); err != nil {
					return fmt.Errorf("init termination store: %w", err)
				}
			}

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var collectors *metrics.Collectors
			if cfg.Metrics.Enabled {
				collectors = metrics.Init(cfg.Metrics.Namespace)
				go serveMetrics(cfg.Metrics.Addr, collectors)
			}

			var bridge *hostbridge.Client
			if cfg.HostBridge.Enabled {
				bridge = hostbridge.New(cfg.HostBridge, 5*time.Second)
			}

			var sink *auditlog.Sink
			if cfg.Postgres.Enabled {
				var err error
				sink, err = auditlog.Open(context.Background(), cfg.Postgres.DSN, auditlog.Config{})
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				defer sink.Close(5 * time.Second)
			}

			var bus *eventbus.Bus
			if cfg.Redis.Enabled {
				bus = eventbus.New(newRedisClient(cfg.Redis.Addr), cfg.Redis.Channel)
				defer bus.Close()
			}

			builder := process.NewBuilder[hostbridge.Token]().
				WithShrinkPolicy(cfg.Scheduler.ShrinkEvery, cfg.Scheduler.MinCapacity)

			for _, spec := range cfg.Scheduler.Extrinsics {
				sig, err := signatureFromSpec(spec)
				if err != nil {
					return fmt.Errorf("extrinsic %s.%s: %w", spec.Module, spec.Func, err)
				}
				token := hostbridge.Token{Syscall: spec.Module + "." + spec.Func}
				builder = builder.WithExtrinsic(interfaceid.ParseModuleName(spec.Module), spec.Func, sig, token)
			}

			collection := process.Build[hostbridge.Token, procData, threadData](builder)

			var grpcServer *grpc.Server
			if cfg.Introspect.Enabled {
				grpcServer = grpc.NewServer()
				introspect.Register(grpcServer, introspect.NewServer(schedulerAdapter{collection}, bus))
				lis, err := newTCPListener(cfg.Introspect.Addr)
				if err != nil {
					return fmt.Errorf("listen introspect: %w", err)
				}
				go func() {
					if err := grpcServer.Serve(lis); err != nil {
						logging.Op().Warn("introspect server stopped", "error", err)
					}
				}()
				defer grpcServer.GracefulStop()
			}

			moduleBytes, err := os.ReadFile(modulePath)
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			moduleHash, err := fsutil.HashFile(modulePath)
			if err != nil {
				return fmt.Errorf("hash module: %w", err)
			}
			module := engine.NewModule(moduleBytes)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logging.Op().Info("shutdown signal received")
				cancel()
			}()

			proc, err := collection.Execute(ctx, module, procData{StartedAt: time.Now()}, threadData{})
			if err != nil {
				return fmt.Errorf("instantiate module: %w", err)
			}
			logging.Op().Info("process started", "pid", proc.PID(), "module_hash", moduleHash)

			return driveScheduler(ctx, collection, bridge, sink, bus, collectors)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&modulePath, "module", "", "Path to the WASM module to run")

	return cmd
}

// driveScheduler repeatedly calls collection.Run until every process it
// started has terminated, no thread is ready to run (RunIdle), or ctx is
// canceled, forwarding interrupted host
// calls to bridge and recording finished processes to sink, bus, and
// collectors.
func driveScheduler(
	ctx context.Context,
	collection *process.Collection[hostbridge.Token, procData, threadData],
	bridge *hostbridge.Client,
	sink *auditlog.Sink,
	bus *eventbus.Bus,
	collectors *metrics.Collectors,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if len(collection.Pids()) == 0 {
			return nil
		}

		start := time.Now()
		outcome := collection.Run(ctx)
		duration := time.Since(start)
		collectors.ObserveRunDuration(duration.Seconds())

		switch outcome.Kind {
		case process.RunIdle:
			collectors.RecordIdleTick()
			return nil

		case process.RunInterrupted:
			collectors.RecordInterrupt()
			logging.Default().Log(&logging.RunLog{
				PID: outcome.Thread.PID(), ThreadID: outcome.Thread.TID(),
				Outcome: "interrupted", DurationUs: duration.Microseconds(),
			})
			if bridge == nil {
				return fmt.Errorf("process interrupted on %q but no host bridge is configured", outcome.Token.Syscall)
			}
			results, err := bridge.Call(ctx, *outcome.Token, outcome.Params)
			if err != nil {
				return fmt.Errorf("host bridge call %q: %w", outcome.Token.Syscall, err)
			}
			outcome.Thread.Resume(results)
			collectors.RecordResume()

		case process.RunThreadFinished:
			logging.Op().Debug("thread finished", "pid", outcome.Process.PID(), "tid", outcome.ThreadID)
			logging.Default().Log(&logging.RunLog{
				PID: outcome.Process.PID(), ThreadID: outcome.ThreadID,
				Outcome: "thread_finished", DurationUs: duration.Microseconds(),
			})

		case process.RunProcessFinished:
			errMsg := ""
			if outcome.Err != nil {
				errMsg = outcome.Err.Error()
			}
			logging.Default().Log(&logging.RunLog{
				PID: outcome.PID, ThreadID: outcome.ThreadID,
				Outcome: "process_finished", DurationUs: duration.Microseconds(), Error: errMsg,
			})
			recordProcessFinished(ctx, outcome, sink, bus, collectors)
		}
	}
}

func recordProcessFinished(
	ctx context.Context,
	outcome process.RunOutcome[hostbridge.Token, procData, threadData],
	sink *auditlog.Sink,
	bus *eventbus.Bus,
	collectors *metrics.Collectors,
) {
	result := "ok"
	trapMsg := ""
	if outcome.Err != nil {
		result = "trap"
		trapMsg = outcome.Err.Error()
	}

	log := logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx))
	log.Info("process finished", "pid", outcome.PID, "outcome", result, "dead_threads", len(outcome.DeadThreads))
	collectors.RecordProcessFinished(result)

	detail := trapMsg
	if detail == "" {
		detail = formatReturnValue(outcome.ReturnValue)
	}
	logging.GetTerminationStore().Store(outcome.PID, result, detail)

	sink.Record(auditlog.Record{
		PID:         outcome.PID,
		Outcome:     result,
		ReturnValue: formatReturnValue(outcome.ReturnValue),
		TrapError:   trapMsg,
		DeadThreads: len(outcome.DeadThreads),
		FinishedAt:  time.Now(),
	})

	if err := bus.Publish(ctx, eventbus.OutcomeEvent{
		Kind:       "process_finished",
		PID:        outcome.PID,
		Outcome:    result,
		Detail:     trapMsg,
		OccurredAt: time.Now(),
	}); err != nil {
		logging.Op().Warn("publish outcome event", "error", err)
	}
}

func formatReturnValue(values []engine.Value) string {
	if len(values) == 0 {
		return ""
	}
	s := ""
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		switch v.Type {
		case signature.I64:
			s += fmt.Sprintf("%d", v.AsI64())
		case signature.F32:
			s += fmt.Sprintf("%g", v.AsF32())
		case signature.F64:
			s += fmt.Sprintf("%g", v.AsF64())
		default:
			s += fmt.Sprintf("%d", v.AsI32())
		}
	}
	return s
}

// signatureFromSpec turns the YAML-declared parameter/result type names into
// a signature.Signature, the shape process.Builder.WithExtrinsic checks an
// imported function against.
func signatureFromSpec(spec config.ExtrinsicSpec) (signature.Signature, error) {
	params := make([]signature.ValueType, len(spec.Params))
	for i, p := range spec.Params {
		vt, err := parseValueType(p)
		if err != nil {
			return signature.Signature{}, fmt.Errorf("param %d: %w", i, err)
		}
		params[i] = vt
	}

	if spec.Result == "" {
		return signature.New(params, nil), nil
	}
	result, err := parseValueType(spec.Result)
	if err != nil {
		return signature.Signature{}, fmt.Errorf("result: %w", err)
	}
	return signature.New(params, &result), nil
}

func parseValueType(s string) (signature.ValueType, error) {
	switch s {
	case "i32":
		return signature.I32, nil
	case "i64":
		return signature.I64, nil
	case "f32":
		return signature.F32, nil
	case "f64":
		return signature.F64, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// schedulerAdapter exposes a concretely-instantiated Collection through the
// narrow interface internal/introspect depends on, so that package never
// needs to know this daemon's procData/threadData type arguments.
type schedulerAdapter struct {
	c *process.Collection[hostbridge.Token, procData, threadData]
}

func (a schedulerAdapter) PIDs() []uint64 { return a.c.Pids() }

func (a schedulerAdapter) Describe(pid uint64) (introspect.ProcessDescription, bool) {
	proc, ok := a.c.ProcessByID(pid)
	if !ok {
		return introspect.ProcessDescription{}, false
	}
	return introspect.ProcessDescription{PID: pid, ThreadIDs: proc.ThreadIDs()}, true
}
