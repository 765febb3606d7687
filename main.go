package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"campaign-spend/config"
	"campaign-spend/dashboard"
	"campaign-spend/services"
	"campaign-spend/snapshot"
	"campaign-spend/storage"
	"campaign-spend/utils"
	"campaign-spend/views"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "campaign-spend",
		Usage: views.AppTitle,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "results", Usage: "results CSV path or URL"},
			&cli.StringFlag{Name: "advertisers", Usage: "advertisers CSV path or URL"},
			&cli.StringFlag{Name: "locations", Usage: "locations CSV path or URL"},
			&cli.StringFlag{Name: "views-config", Usage: "YAML file overriding chart settings"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the dashboard over HTTP",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address"}},
				Action: serve,
			},
			{
				Name:  "report",
				Usage: "print every view as a table",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "rows per table, 0 for all"},
				},
				Action: report,
			},
			{
				Name:  "export",
				Usage: "write every view's table to disk",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv, xlsx or json"},
					&cli.StringFlag{Name: "out", Usage: "output directory"},
				},
				Action: export,
			},
			{
				Name:  "publish",
				Usage: "store the merged table and view summaries in a database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "driver", Usage: "postgres or sqlite"},
				},
				Action: publish,
			},
			{
				Name:  "snapshot",
				Usage: "save a PNG of every dashboard page with headless Chrome",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "output directory"},
				},
				Action: capture,
			},
		},
	}
}

// env bundles what every command needs once the datasets are loaded.
type env struct {
	cfg      *config.Config
	logger   *utils.Logger
	data     *services.AppData
	registry *views.Registry
}

// setup loads configuration, applies flag overrides and builds AppData.
func setup(c *cli.Context) (*env, error) {
	cfg := config.Load()
	override(&cfg.ResultsSource, c.String("results"))
	override(&cfg.AdvertisersSource, c.String("advertisers"))
	override(&cfg.LocationsSource, c.String("locations"))
	override(&cfg.ViewsConfig, c.String("views-config"))
	override(&cfg.LogLevel, c.String("log-level"))
	override(&cfg.ListenAddr, c.String("addr"))
	override(&cfg.StoreDriver, c.String("driver"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)

	registry := views.NewRegistry()
	if cfg.ViewsConfig != "" {
		if err := registry.LoadOverrides(cfg.ViewsConfig); err != nil {
			return nil, err
		}
		logger.Info("[config] Applied view overrides from %s", cfg.ViewsConfig)
	}

	reader := storage.NewDatasetReader(nil, cfg.FetchTimeout, cfg.MaxRetries, logger)
	raw, err := reader.LoadAll(c.Context, storage.Sources{
		Results:     cfg.ResultsSource,
		Advertisers: cfg.AdvertisersSource,
		Locations:   cfg.LocationsSource,
	})
	if err != nil {
		return nil, err
	}

	data, err := services.BuildAppData(raw, logger)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, data: data, registry: registry}, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (e *env) server() (*dashboard.Server, error) {
	return dashboard.NewServer(e.data, e.registry, dashboard.Options{
		Addr:           e.cfg.ListenAddr,
		ChartCacheSize: e.cfg.ChartCacheSize,
	}, dashboard.NewMetrics(), e.logger)
}

// computeAll runs every view and logs the ones that failed.
func (e *env) computeAll(ctx context.Context) ([]views.Result, error) {
	results, err := views.ComputeAll(ctx, services.NewInsightService(e.logger), e.data)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("[views] %s skipped: %v", r.ID, r.Err)
		}
	}
	return results, nil
}

func serve(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	srv, err := e.server()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

func report(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	results, err := e.computeAll(c.Context)
	if err != nil {
		return err
	}

	svc := services.NewInsightService(e.logger)
	out := c.App.Writer

	color.New(color.FgCyan, color.Bold).Fprintf(out, "\n  %s\n", views.AppTitle)
	fmt.Fprintf(out, "  %d merged rows · %d unmatched states · %d advertiser rows dropped\n",
		len(e.data.Merged.Rows), len(e.data.Merged.Unmatched), e.data.DroppedAdvertisers)

	for _, r := range results {
		title := e.registry.Title(r.ID)
		if r.Err != nil {
			color.New(color.FgRed).Fprintf(out, "\n  %s: %v\n", title, r.Err)
			continue
		}
		table := views.DisplayOrder(e.registry.Config(r.ID), r.Table)
		svc.Print(out, title, table, c.Int("limit"))
	}

	if corr := services.SpendTurnoutCorrelation(e.data.Merged); corr.Valid {
		fmt.Fprintf(out, "\n  Correlation between ad spend and voter turnout: r = %.3f\n\n", corr.Float64)
	} else {
		fmt.Fprintf(out, "\n  Correlation between ad spend and voter turnout is undefined\n\n")
	}
	return nil
}

func export(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	override(&e.cfg.ExportDir, c.String("out"))

	results, err := e.computeAll(c.Context)
	if err != nil {
		return err
	}
	summaries := views.Summaries(e.registry, results)

	var (
		writer storage.SummaryWriter
		target string
	)
	switch format := c.String("format"); format {
	case "csv":
		writer, err = storage.NewCSVWriter(e.cfg.ExportDir)
		target = e.cfg.ExportDir
	case "xlsx":
		target = filepath.Join(e.cfg.ExportDir, "campaign-spend.xlsx")
		writer, err = storage.NewXLSXWriter(target)
	case "json":
		target = filepath.Join(e.cfg.ExportDir, "campaign-spend.json")
		writer, err = storage.NewJSONWriter(target)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}

	if err := writer.Write(summaries); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	e.logger.Info("[export] Wrote %d views to %s", len(summaries), target)
	return nil
}

func publish(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	results, err := e.computeAll(c.Context)
	if err != nil {
		return err
	}
	summaries := views.Summaries(e.registry, results)

	if e.cfg.StoreDriver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(e.cfg.SQLitePath), 0755); err != nil {
			return fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	retry := &utils.RetryConfig{MaxAttempts: e.cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: e.logger}
	store, err := storage.NewSQLWriter(c.Context, e.cfg.StoreDriver, e.cfg.StoreDSN(), retry)
	if err != nil {
		e.logger.Error("Failed to connect to %s", e.cfg.StoreDriver)
		return err
	}
	defer store.Close()

	corr := services.SpendTurnoutCorrelation(e.data.Merged)
	run, err := store.WriteRun(c.Context, e.data.Merged, corr, summaries)
	if err != nil {
		return err
	}
	if err := store.Verify(c.Context, run, summaries); err != nil {
		return err
	}

	e.logger.Info("[publish] Run %s stored in %s: %d merged rows, %d views",
		run.ID, e.cfg.StoreDriver, run.MergedRows, run.Summaries)
	return nil
}

func capture(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	override(&e.cfg.SnapshotDir, c.String("out"))

	srv, err := e.server()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("snapshot: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(c.Context)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	capturer := snapshot.New(snapshot.Options{
		OutDir:         e.cfg.SnapshotDir,
		ChromeBin:      e.cfg.ChromeBin,
		MaxConcurrency: e.cfg.MaxConcurrency,
		RateLimitMs:    e.cfg.RateLimitMs,
		MaxRetries:     e.cfg.MaxRetries,
	}, e.logger)
	files, captureErr := capturer.Capture(ctx, "http://"+ln.Addr().String())

	cancel()
	if err := <-served; err != nil {
		e.logger.Warn("[snapshot] dashboard shutdown: %v", err)
	}

	e.logger.Info("[snapshot] Saved %d of %d pages to %s", len(files), len(views.All()), e.cfg.SnapshotDir)
	return captureErr
}
