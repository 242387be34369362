package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"isolab/pkg/config"
	"isolab/pkg/dataset"
	"isolab/pkg/demo"
	"isolab/pkg/engine"
	"isolab/pkg/history"
	"isolab/pkg/isolation"
	"isolab/pkg/postgres"
	"isolab/pkg/repl"
	"isolab/pkg/scheduler"
	"isolab/pkg/txerr"
)

// Listens for SIGINT or SIGTERM and cancels the run, so open transactions
// are rolled back and the connections closed on the way out.
func setupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		cancel()
	}()
}

// Opens the dataset the schedules run against.
func openDataset(ctx context.Context, backend, envFile string, timeout time.Duration, logger *log.Logger) (dataset.Dataset, error) {
	switch backend {
	case "memory":
		return engine.New(engine.WithLockTimeout(timeout), engine.WithLogger(logger)), nil
	case "postgres":
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, txerr.Wrap(txerr.KindConfiguration, "config", err)
		}
		if cfg.StatementTimeout == 0 {
			cfg.StatementTimeout = timeout
		}
		ds, err := postgres.Open(ctx, cfg.DSN(),
			postgres.WithStatementTimeout(cfg.StatementTimeout),
			postgres.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return ds, nil
	default:
		return nil, txerr.Newf(txerr.KindConfiguration, "backend", "unknown backend %q", backend)
	}
}

// Start the harness.
func main() {
	// Set up flags.
	var promptFlag = flag.Bool("c", true, "use prompt?")
	var backendFlag = flag.String("backend", "memory", "dataset backend: [memory,postgres]")
	var envFlag = flag.String("env", ".env", "environment file with the DB_* connection settings")
	var levelsFlag = flag.String("levels", "", "comma separated isolation levels to run (default all)")
	var schedulesFlag = flag.String("schedules", "", "comma separated schedules to run (default all)")
	var timeoutFlag = flag.Duration("timeout", config.DefaultLockTimeout, "how long a statement may wait on a lock")
	var traceFlag = flag.String("trace", config.DefaultTraceFile, "history trace file (empty disables)")
	var interactiveFlag = flag.Bool("i", false, "run the interactive REPL instead of the demo")
	flag.Parse()

	logger := log.New(os.Stderr, config.DBName+": ", log.LstdFlags)

	levels, err := isolation.ParseList(*levelsFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	var schedules []string
	if *schedulesFlag != "" {
		for _, name := range strings.Split(*schedulesFlag, ",") {
			schedules = append(schedules, strings.TrimSpace(name))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupCloseHandler(cancel)

	ds, err := openDataset(ctx, *backendFlag, *envFlag, *timeoutFlag, logger)
	if err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
	defer ds.Close()

	var rec *history.Recorder
	if *traceFlag != "" {
		if !*interactiveFlag {
			if err := history.Rotate(*traceFlag); err != nil {
				logger.Printf("rotating %s: %v", *traceFlag, err)
			}
		}
		if rec, err = history.Open(*traceFlag); err != nil {
			fmt.Printf("Application error: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
	}

	if *interactiveFlag {
		if err := runREPL(ctx, ds, rec, logger, config.GetPrompt(*promptFlag)); err != nil {
			fmt.Printf("Application error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	report, err := demo.Run(ctx, ds, demo.Options{
		Levels:    levels,
		Schedules: schedules,
		Recorder:  rec,
		Logger:    logger,
	}, os.Stdout)
	if report != nil {
		report.Print(os.Stdout)
	}
	if err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// Runs the REPL on stdin and stdout over a fresh table.
func runREPL(ctx context.Context, ds dataset.Dataset, rec *history.Recorder, logger *log.Logger, prompt string) error {
	if err := ds.Reset(ctx); err != nil {
		return err
	}
	opts := []scheduler.Option{
		scheduler.WithOutput(os.Stdout),
		scheduler.WithLogger(logger),
	}
	if rec != nil {
		opts = append(opts, scheduler.WithRecorder(rec))
	}
	s, err := scheduler.New(ctx, ds, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := repl.CombineRepls([]*repl.REPL{scheduler.SchedulerREPL(ds, s)})
	if err != nil {
		return err
	}
	r.Run(ctx, prompt, nil, nil)
	return nil
}
