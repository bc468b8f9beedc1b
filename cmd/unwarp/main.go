// cmd/unwarp/main.go
//
// This is the entry point for the unwarp CLI.
//
// Flow:
// 1. Resolve configuration (flags > environment > config file > defaults)
// 2. Discover (subject, session, run) tasks under the dataset root
// 3. Dry-run mode prints the planned work and exits
// 4. Otherwise the worker pool runs every task, writes the outcome ledger,
//    and prints the final tally. Individual task failures never abort the
//    batch; only configuration and discovery errors are fatal.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kingrea/unwarp/internal/config"
	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/fsl"
	"github.com/kingrea/unwarp/internal/ledger"
	"github.com/kingrea/unwarp/internal/logging"
	"github.com/kingrea/unwarp/internal/pipeline"
	"github.com/kingrea/unwarp/internal/tui"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		die(2, "%v", err)
	}

	tasks, err := dataset.Scan(cfg.Root, cfg.Runs)
	if err != nil {
		die(1, "%v", err)
	}

	resolver := &dataset.Resolver{
		Root:       cfg.Root,
		APKeywords: cfg.APKeywords,
		PAKeywords: cfg.PAKeywords,
	}

	if cfg.DryRun {
		printPlan(tasks, resolver)
		return
	}

	if err := cfg.InitDerivDir(); err != nil {
		die(1, "%v", err)
	}
	start := time.Now()
	log, err := logging.New(cfg.LogDir(), start)
	if err != nil {
		die(1, "%v", err)
	}
	defer log.Close()
	if !cfg.Progress {
		log.Echo(os.Stderr)
	}
	led, err := ledger.New(cfg.LogDir(), start)
	if err != nil {
		die(1, "%v", err)
	}
	log.Printf("batch %s: %d tasks across %d workers (engine threads %d)",
		led.RunID(), len(tasks), cfg.Workers, cfg.Threads)

	tools := fsl.NewTools(log)
	executor := &pipeline.Executor{
		Resolver:   resolver,
		Engine:     tools,
		Images:     tools,
		Attempts:   fsl.DefaultAttempts(),
		WorkRoot:   cfg.WorkDir(),
		PEOverride: cfg.PEDir,
		Threads:    cfg.Threads,
		Log:        log,
	}
	pool := &pipeline.Pool{Workers: cfg.Workers, Exec: executor.Run, Log: log}

	ctx := context.Background()
	var tally ledger.Tally
	if cfg.Progress {
		events := make(chan pipeline.Event)
		done := make(chan ledger.Tally, 1)
		go func() { done <- pool.Run(ctx, tasks, led, events) }()
		if err := tui.Show(len(tasks), events); err != nil {
			log.Printf("progress board error: %v", err)
		}
		// The board may be closed early; keep draining so workers never
		// block on the event channel.
		go func() {
			for range events {
			}
		}()
		tally = <-done
	} else {
		tally = pool.Run(ctx, tasks, led, nil)
	}

	log.Printf("batch complete: %s", tally)
	fmt.Println(tui.RenderTally(tally))
	fmt.Printf("ledger: %s\n", led.Path())
	fmt.Printf("log:    %s\n", log.Path())
}

// printPlan performs discovery and resolution only.
func printPlan(tasks []dataset.Task, resolver *dataset.Resolver) {
	ready := 0
	for _, task := range tasks {
		inputs := resolver.Resolve(task)
		if inputs.Complete() {
			ready++
		}
		fmt.Println(tui.PlanLine(task.String(), inputs.Complete(), describeMissing(inputs)))
	}
	fmt.Printf("%d tasks planned, %d ready\n", len(tasks), ready)
}

func describeMissing(inputs dataset.ResolvedInputs) string {
	if inputs.Primary == "" {
		return "primary series"
	}
	if missing := inputs.MissingAux(); len(missing) > 0 {
		return strings.Join(missing, " and ") + " auxiliary"
	}
	return ""
}

func die(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "unwarp: "+format+"\n", args...)
	os.Exit(code)
}
