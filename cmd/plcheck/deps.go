package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/checker"
)

func depsCommand() *cli.Command {
	return &cli.Command{
		Name:      "deps",
		Usage:     "List the database objects each routine depends on",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "schema",
				Aliases: []string{"s"},
				Usage:   "schema description YAML file",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output dependencies as JSON",
			},
		},
		Action: runDeps,
	}
}

type depsEntry struct {
	Routine      string     `json:"routine"`
	Dependencies []depsItem `json:"dependencies"`
}

type depsItem struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func runDeps(_ context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	files, err := collectSQLFiles(cmd.Args().Slice())
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return errNoSQLFiles
	}

	cat, err := loadCatalog(cmd.String("schema"))
	if err != nil {
		return err
	}

	var entries []depsEntry

	for _, file := range files {
		logger.Debug("scanning file", zap.String("file", file))

		src, err := os.ReadFile(file) //#nosec G304 -- paths come from user args
		if err != nil {
			return err
		}

		routines, err := plcheck.ParseFile(file, string(src))
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}

		for _, r := range routines {
			entry := depsEntry{Routine: r.Signature()}

			for _, dep := range checker.Dependencies(r, cat) {
				entry.Dependencies = append(entry.Dependencies, depsItem{
					Kind: dep.Kind.String(),
					Name: dep.Name,
				})
			}

			entries = append(entries, entry)
		}
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	for _, entry := range entries {
		fmt.Fprintf(os.Stdout, "%s\n", entry.Routine)

		for _, dep := range entry.Dependencies {
			fmt.Fprintf(os.Stdout, "  %-8s %s\n", dep.Kind, dep.Name)
		}
	}

	return nil
}
