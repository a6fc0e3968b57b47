// ════════════════════════════════════════════════════════════════════════════════════════════════
// Generational Collector - Simulation Driver
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: gengc
// Component: Main Entry Point
//
// Description:
//   Builds a heap from a JSON config, drives it with a seeded random workload through the
//   sim client and journals every collection to SQLite.
//   Config → Journal → Workload → Report
//
// Exit status:
//   - 0: workload finished and every collection preserved the object graph
//   - 1: configuration, journal or verification failure
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"gengc/debug"
	"gengc/heap"
	"gengc/journal"
	"gengc/sim"
	"gengc/utils"

	"github.com/sugawarayuuta/sonnet"
)

var (
	configPath   = flag.String("config", "", "heap config JSON (defaults when empty)")
	journalPath  = flag.String("journal", "gengc.db", "SQLite collection journal, empty to disable")
	workloadPath = flag.String("workload", "", "workload JSON (defaults when empty)")
	label        = flag.String("label", "run", "journal run label")
	limit        = flag.Uint64("limit", 64<<20, "heap limit in bytes when no config is given")
	chunkBytes   = flag.Uint("chunk", sim.DefaultChunkBytes, "raw allocation chunk in bytes")
	verbose      = flag.Bool("v", false, "per-collection sizing lines")
)

func main() {
	flag.Parse()

	// Collections run on the mutator's thread.
	runtime.LockOSThread()

	if err := run(); err != nil {
		debug.DropError("FATAL", err)
		os.Exit(1)
	}
}

func run() error {
	// PHASE 0: configuration
	cfg := heap.DefaultConfig(*limit)
	if *configPath != "" {
		var err error
		if cfg, err = heap.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	cfg.Verbose = cfg.Verbose || *verbose

	wl, err := loadWorkload(*workloadPath)
	if err != nil {
		return err
	}

	// PHASE 1: journal
	var (
		j     *journal.Journal
		runID int64
	)
	if *journalPath != "" {
		if j, err = journal.Open(*journalPath); err != nil {
			return err
		}
		defer j.Close()
		if runID, err = j.StartRun(*label, cfg); err != nil {
			return err
		}
		cfg.Recorder = j
	}

	// PHASE 2: workload
	w, err := sim.NewWorld(cfg, uint32(*chunkBytes))
	if err != nil {
		return err
	}
	defer w.Dispose()

	debug.DropMessage("RUN", utils.Itoa(wl.Steps)+" steps, seed "+utils.Itoa(int(wl.Seed)))
	report, runErr := w.Run(wl)

	// PHASE 3: report
	if err := printJSON("REPORT", report); err != nil {
		return err
	}
	stats, err := w.Heap().StatsJSON()
	if err != nil {
		return err
	}
	debug.DropMessage("STATS", string(stats))

	if j != nil {
		if err := j.Flush(); err != nil {
			return err
		}
		if n := j.Failed(); n != 0 {
			debug.DropMessage("JOURNAL", utils.Itoa(n)+" records dropped")
		}
		summary, err := j.Summary(runID)
		if err != nil {
			return err
		}
		if err := printJSON("SUMMARY", summary); err != nil {
			return err
		}
	}
	return runErr
}

// loadWorkload decodes path over DefaultWorkload; an empty path keeps the
// defaults.
func loadWorkload(path string) (sim.Workload, error) {
	wl := sim.DefaultWorkload()
	if path == "" {
		return wl, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sim.Workload{}, fmt.Errorf("failed to read workload %s: %w", path, err)
	}
	if err := sonnet.Unmarshal(data, &wl); err != nil {
		return sim.Workload{}, fmt.Errorf("failed to decode workload %s: %w", path, err)
	}
	return wl, nil
}

func printJSON(prefix string, v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	debug.DropMessage(prefix, string(data))
	return nil
}
