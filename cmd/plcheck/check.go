package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
	"github.com/plcheck/plcheck/checker"
	"github.com/plcheck/plcheck/report"
)

var errNoSQLFiles = errors.New("no .sql files found")

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Check routines for errors and warnings",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "schema",
				Aliases: []string{"s"},
				Usage:   "schema description YAML file",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "text",
				Usage:   "output format: text, xml or json",
			},
			&cli.BoolFlag{
				Name:  "fatal-errors",
				Value: true,
				Usage: "stop each routine's scan at the first error",
			},
			&cli.BoolFlag{
				Name:  "extra-warnings",
				Usage: "report unused parameters and never-read variables",
			},
			&cli.BoolFlag{
				Name:  "performance-warnings",
				Usage: "report implicit casts and other slow patterns",
			},
			&cli.BoolFlag{
				Name:  "security-warnings",
				Usage: "report SQL injection vulnerable dynamic SQL",
			},
			&cli.BoolFlag{
				Name:  "all-warnings",
				Usage: "enable every warning category",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "diagnostic policy YAML file",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "plain output without styling",
			},
			&cli.StringFlag{
				Name:  "trigger-table",
				Usage: "relation trigger routines are checked against",
			},
		},
		Action: runCheck,
	}
}

func runCheck(_ context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	format, err := plcheck.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

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

	var policy *report.Policy

	if path := cmd.String("policy"); path != "" {
		policy, err = report.LoadPolicyFile(path)
		if err != nil {
			return err
		}
	}

	opts := plcheck.DefaultOptions()
	opts.FatalErrors = cmd.Bool("fatal-errors")
	opts.ExtraWarnings = cmd.Bool("extra-warnings")
	opts.PerformanceWarnings = cmd.Bool("performance-warnings")
	opts.SecurityWarnings = cmd.Bool("security-warnings")
	opts.AllWarnings = cmd.Bool("all-warnings")
	opts.Format = format
	opts.TriggerTable = cmd.String("trigger-table")

	styles := report.DefaultStyles()
	if cmd.Bool("no-color") {
		styles = report.PlainStyles()
	}

	hasErrors := false

	for _, file := range files {
		logger.Debug("checking file", zap.String("file", file))

		reports, err := checkFile(file, cat, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}

		for _, rep := range reports {
			if policy != nil {
				rep = policy.Apply(rep)
			}

			if rep.HasErrors() {
				hasErrors = true
			}

			if err := writeReport(os.Stdout, rep, format, styles); err != nil {
				return err
			}
		}
	}

	if hasErrors {
		return cli.Exit("", 1)
	}

	return nil
}

// checkFile checks every routine in one source file. A syntax error becomes
// a single stopped report instead of aborting the whole run.
func checkFile(path string, cat catalog.Catalog, opts plcheck.Options) ([]*report.Report, error) {
	src, err := os.ReadFile(path) //#nosec G304 -- paths come from user args
	if err != nil {
		return nil, err
	}

	routines, err := plcheck.ParseFile(path, string(src))

	var perr *plcheck.ParseError
	if errors.As(err, &perr) {
		col := report.NewCollector(path, path, opts)
		col.Add(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Line:     perr.Pos.Line,
			Message:  "syntax error: " + perr.Message,
		})

		rep := col.Report()
		rep.Stopped = true

		return []*report.Report{rep}, nil
	}

	if err != nil {
		return nil, err
	}

	reports := make([]*report.Report, 0, len(routines))

	for _, r := range routines {
		rep, err := checker.Check(r, cat, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Signature(), err)
		}

		reports = append(reports, rep)
	}

	return reports, nil
}

func writeReport(w io.Writer, rep *report.Report, format plcheck.Format, styles *report.Styles) error {
	if format == plcheck.FormatText {
		return report.WriteConsole(w, rep, styles)
	}

	return report.Write(w, rep, format)
}

func loadCatalog(path string) (*catalog.Memory, error) {
	if path == "" {
		return catalog.NewMemory(), nil
	}

	return catalog.LoadSchemaFile(path)
}

func collectSQLFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}

	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}

				if !d.IsDir() && strings.HasSuffix(path, ".sql") {
					files = append(files, path)
				}

				return nil
			})
			if err != nil {
				return nil, err
			}
		} else {
			files = append(files, arg)
		}
	}

	return files, nil
}
