// Kestrel - Credit-risk rating for company portfolios.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command notate rates spreadsheets offline, without a server or database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pd"
	"github.com/opensource-finance/kestrel/internal/rating"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Version information (set via ldflags)
var (
	Version = "dev"
	Commit  = "none"
)

// localTenant owns batches rated by the CLI.
const localTenant = "local"

const policyFlagName = "policy"

var debugFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "Prints verbose logs",
}

func newPolicyFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    policyFlagName,
		Aliases: []string{"p"},
		Usage:   "Path to a YAML rating policy (default: built-in policy)",
		Sources: cli.EnvVars("KESTREL_POLICY_FILE"),
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "notate",
		Usage:   "Rate company spreadsheets from their default probabilities",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		Flags:   []cli.Flag{debugFlag},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			initLogging(cmd.Bool(debugFlag.Name))
			return ctx, nil
		},
		Commands: []*cli.Command{
			rateCommand(),
			policyCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func initLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rate",
		Usage: "Rate one or more .xlsx/.csv files",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "in",
				Aliases:  []string{"i"},
				Usage:    "Input file, repeatable",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory for the rated files",
				Value: ".",
			},
			newPolicyFlag(),
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Path to a JSON PD model (default: criteria-based PD)",
				Sources: cli.EnvVars("KESTREL_MODEL_FILE"),
			},
			&cli.StringFlag{
				Name:  "fmt",
				Usage: "Output format [xlsx, csv]",
				Value: string(table.FormatXLSX),
			},
			&cli.BoolFlag{
				Name:  "no-squash",
				Usage: "Keep estimated PD uncompressed",
			},
		},
		Action: runRate,
	}
}

func policyCommand() *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Print the rating policy as YAML",
		Flags: []cli.Flag{newPolicyFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			policy, err := config.LoadPolicy(cmd.String(policyFlagName))
			if err != nil {
				return err
			}
			for _, w := range policy.Validate() {
				slog.Warn("rating policy", "warning", w)
			}
			return config.WritePolicy(os.Stdout, policy)
		},
	}
}

func runRate(ctx context.Context, cmd *cli.Command) error {
	format := table.Format(strings.ToLower(cmd.String("fmt")))
	if format != table.FormatXLSX && format != table.FormatCSV {
		return fmt.Errorf("--fmt must be xlsx or csv, got %q", cmd.String("fmt"))
	}

	outDir := cmd.String("out-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	scorer, err := newScorer(cmd)
	if err != nil {
		return err
	}

	inputs := cmd.StringSlice("in")
	summaries := make([]string, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, in := range inputs {
		g.Go(func() error {
			out, b, err := rateFile(gctx, scorer, in, outDir, format)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			summaries[i] = fmt.Sprintf("%s -> %s (%d/%d rated, pd from %s)", in, out, b.RatedCount, b.RowCount, b.PDSource)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range summaries {
		fmt.Println(s)
	}
	return nil
}

func newScorer(cmd *cli.Command) (*scoring.Scorer, error) {
	policy, err := config.LoadPolicy(cmd.String(policyFlagName))
	if err != nil {
		return nil, err
	}
	for _, w := range policy.Validate() {
		slog.Warn("rating policy", "warning", w)
	}

	criteria, err := rules.NewEngine(runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	if err := criteria.LoadCriteria(rules.DefaultCriteria()); err != nil {
		return nil, err
	}

	var model pd.Estimator
	estimator, err := pd.LoadModel(cmd.String("model"))
	switch {
	case err == nil:
		model = estimator
	case errors.Is(err, pd.ErrNoModel):
		slog.Debug("no pd model, using criteria-based pd")
	default:
		return nil, err
	}

	return scoring.New(scoring.Config{
		Engine:   rating.NewEngine(policy),
		Criteria: criteria,
		Model:    model,
		Squash:   !cmd.Bool("no-squash"),
	}), nil
}

// rateFile rates one spreadsheet and writes <name>_notes.<fmt> to outDir.
func rateFile(ctx context.Context, scorer *scoring.Scorer, in, outDir string, format table.Format) (string, *domain.Batch, error) {
	start := time.Now()

	f, err := os.Open(in)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	tbl, err := table.Read(in, f)
	if err != nil {
		return "", nil, err
	}

	b, err := scorer.Score(ctx, localTenant, filepath.Base(in), tbl)
	if err != nil {
		return "", nil, err
	}

	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	out := filepath.Join(outDir, base+"_notes."+string(format))
	w, err := os.Create(out)
	if err != nil {
		return "", nil, err
	}
	defer w.Close()

	rated := scoring.Table(b)
	if format == table.FormatCSV {
		err = rated.WriteCSV(w)
	} else {
		err = rated.WriteXLSX(w, table.ResultSheet)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to write %s: %w", out, err)
	}

	slog.Debug("file rated",
		"input", in,
		"output", out,
		"rows", b.RowCount,
		"rated", b.RatedCount,
		"pd_source", b.PDSource,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, b, w.Close()
}
