package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/remoteexec/rexecd/internal/config"
	"github.com/remoteexec/rexecd/internal/eventbus"
	"github.com/remoteexec/rexecd/internal/reactor"
	"github.com/remoteexec/rexecd/internal/watchdog"
)

var serveConfigDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler core in the foreground",
	Long: `Run the scheduler core in the foreground: loads configuration,
constructs the in-memory operation lifecycle engine, and blocks until
interrupted. The gRPC transport that would expose execute/waitExecution/
match to the network is an external collaborator and is not started
here (§1, out of scope).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", ".", "directory containing rexec.toml")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(serveConfigDir)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		return err
	}

	// The core keeps no durable state and coordinates nothing across
	// processes (§1 Non-goals), but two schedulers racing over the same
	// config dir would both think they're the only one. Guard against
	// that with a non-blocking exclusive file lock, the way the teacher
	// codebase's own daemon guards its single-instance invariant.
	lockPath := filepath.Join(serveConfigDir, "rexecd.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		logger.Error("acquiring instance lock", "error", err)
		return err
	}
	if !locked {
		err := fmt.Errorf("another rexecd instance holds the lock at %s", lockPath)
		logger.Error("startup aborted", "error", err)
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	provider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(provider)
	dogMetrics, err := watchdog.NewMetrics()
	if err != nil {
		logger.Error("registering watchdog metrics", "error", err)
		return err
	}

	cas := reactor.NewMemoryBlobStore()
	completed := reactor.NewCompletedStore(cas)
	events := eventbus.New()
	defer events.Close()

	scheduler := reactor.New(cfg, completed, events, dogMetrics)

	// Directory trees referenced by an action's input root are resolved
	// through the same CAS binding, independent of the scheduler's
	// lifecycle state (§6: ContentAddressableStorage.GetTree is a CAS
	// collaborator method, not an Execution-service operation). No
	// transport calls into it yet (out of scope, §1); it's constructed
	// here so the binary that does embed a transport only has to wire
	// the RPC handlers, not the CAS plumbing behind them.
	_ = reactor.NewTreeFetcher(cas, reactor.JSONTreeCodec(),
		cfg.TreeDefaultPageSize, cfg.TreeMaxPageSize, 16)

	logger.Info("scheduler core ready",
		"maximumActionTimeout", cfg.MaximumActionTimeout,
		"defaultActionTimeout", cfg.DefaultActionTimeout,
		"operationPollTimeout", cfg.OperationPollTimeout,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := logOperationCounts(ctx, logger, scheduler, events)
	defer unsubscribe()

	<-ctx.Done()
	logger.Info("shutting down")
	return shutdownMeterProvider(provider)
}

// logOperationCounts logs a line every time a lifecycle event crosses the
// eventbus, giving an operator foreground visibility into the in-flight
// operation count without a transport layer to poll listOperations through.
func logOperationCounts(ctx context.Context, logger *slog.Logger, scheduler *reactor.Scheduler, events *eventbus.Bus) (unsubscribe func()) {
	ch, unsubscribe := events.Subscribe()
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				logger.Info("operation event", "type", ev.Type, "operation", ev.OperationID, "inFlight", scheduler.InFlightCount())
			case <-ctx.Done():
				return
			}
		}
	}()
	return unsubscribe
}

func shutdownMeterProvider(p *sdkmetric.MeterProvider) error {
	return p.Shutdown(context.Background())
}
