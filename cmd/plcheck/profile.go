package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/profiler"
)

var errRoutineNotFound = errors.New("routine not found in source file")

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:      "profile",
		Usage:     "Render persisted coverage counters",
		ArgsUsage: "[routine]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db",
				Usage:    "counter database path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "routine source file, enables the per-line report",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "clear counters for the routine, or all counters",
			},
		},
		Action: runProfile,
	}
}

func runProfile(_ context.Context, cmd *cli.Command) error {
	store, err := profiler.OpenSQLite(cmd.String("db"))
	if err != nil {
		return err
	}

	defer func() { _ = store.Close() }()

	routine := cmd.Args().First()

	if cmd.Bool("reset") {
		if routine == "" {
			return store.ResetAll()
		}

		return store.Reset(routine)
	}

	if routine == "" {
		return listRoutines(os.Stdout, store)
	}

	if src := cmd.String("source"); src != "" {
		return writeCoverage(os.Stdout, store, routine, src)
	}

	return writeCounters(os.Stdout, store, routine)
}

func listRoutines(w io.Writer, store *profiler.SQLiteStore) error {
	names, err := store.Routines()
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Fprintf(w, "%s\n", name)
	}

	return nil
}

// writeCounters dumps the raw per-statement counters, ordered by statement
// id. Used when no source file is available to line them up against.
func writeCounters(w io.Writer, store *profiler.SQLiteStore, routine string) error {
	snap, err := store.Snapshot(routine)
	if err != nil {
		return err
	}

	ids := make([]int, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	fmt.Fprintf(w, "%s\n", routine)
	fmt.Fprintf(w, "%6s %10s %12s %12s\n", "stmt", "execs", "total", "max")

	for _, id := range ids {
		stats := snap[id]
		fmt.Fprintf(w, "%6d %10d %12s %12s\n",
			id, stats.ExecCount, fmtTime(stats.TotalTime), fmtTime(stats.MaxTime))
	}

	return nil
}

// writeCoverage renders the per-line report: counters aligned against the
// routine's body text, plus the coverage ratios.
func writeCoverage(w io.Writer, store *profiler.SQLiteStore, routine, srcPath string) error {
	data, err := os.ReadFile(srcPath) //#nosec G304 -- paths come from user args
	if err != nil {
		return err
	}

	routines, err := plcheck.ParseFile(srcPath, string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", srcPath, err)
	}

	r := findRoutine(routines, routine)
	if r == nil {
		return fmt.Errorf("%w: %q", errRoutineNotFound, routine)
	}

	cov, err := profiler.Report(r, store)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", cov.Routine)
	fmt.Fprintf(w, "statements: %.1f%% (%d of %d), branches: %.1f%% (%d of %d)\n\n",
		cov.StmtRatio()*100, cov.ExecutedStmts, cov.TotalStmts,
		cov.BranchRatio()*100, cov.CoveredBranches, cov.Branches)

	byLine := make(map[int]profiler.LineStats, len(cov.Lines))
	for _, ls := range cov.Lines {
		byLine[ls.Line] = ls
	}

	for i, text := range strings.Split(r.Source, "\n") {
		ls, ok := byLine[i+1]

		switch {
		case ok && ls.ExecCount > 0:
			fmt.Fprintf(w, "%8d %10s | %s\n", ls.ExecCount, fmtTime(ls.TotalTime), text)
		case ok:
			fmt.Fprintf(w, "%8s %10s | %s\n", "-", "", text)
		default:
			fmt.Fprintf(w, "%8s %10s | %s\n", "", "", text)
		}
	}

	return nil
}

// findRoutine matches by full signature first, then by bare name.
func findRoutine(routines []*plcheck.Routine, name string) *plcheck.Routine {
	for _, r := range routines {
		if r.Signature() == name {
			return r
		}
	}

	for _, r := range routines {
		if r.Name == name {
			return r
		}
	}

	return nil
}

func fmtTime(d time.Duration) string {
	if d == 0 {
		return ""
	}

	return fmt.Sprintf("%.3f ms", float64(d.Microseconds())/1000)
}
