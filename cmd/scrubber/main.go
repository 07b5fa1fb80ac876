package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/config"
	"github.com/johndauphine/mongo-scrubber/internal/exitcodes"
	"github.com/johndauphine/mongo-scrubber/internal/logging"
	"github.com/johndauphine/mongo-scrubber/internal/orchestrator"
	"github.com/johndauphine/mongo-scrubber/internal/progress"
	"github.com/johndauphine/mongo-scrubber/internal/tui"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "mongo-scrubber",
		Usage:   "Produce an anonymized MongoDB dump from a production database",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"SCRUBBER_CONFIG"},
				Usage:   "Path to configuration file (default: environment variables only)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json (overrides logging.format)",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log verbosity level: debug, info, warn, error (overrides logging.level)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this file, rotated by size (overrides logging.file)",
			},
		},
		Before: func(c *cli.Context) error {
			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Dump, restore, scrub and re-dump the source database",
				Action: runScrub,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Use YAML state file instead of SQLite (for cron/headless)",
					},
					&cli.DurationFlag{
						Name:  "tool-timeout",
						Usage: "Kill mongodump/mongorestore after this long (0 disables)",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the collection progress bar",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "Test connectivity and tool availability",
				Action: healthCheck,
			},
			{
				Name:   "policy",
				Usage:  "Show which collections and fields are scrubbed",
				Action: showPolicy,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: showConfig,
			},
			{
				Name:   "history",
				Usage:  "Show scrub run history",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show collection results for a specific run ID",
					},
					&cli.BoolFlag{
						Name:    "interactive",
						Aliases: []string{"i"},
						Usage:   "Browse history in a terminal UI",
					},
					&cli.IntFlag{
						Name:  "prune",
						Usage: "Delete finished runs older than this many days",
					},
					&cli.StringFlag{
						Name:  "state-file",
						Usage: "Read the YAML state file instead of SQLite",
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logging.Error("Scrub failed (%s): %v", exitcodes.Describe(err), err)
	}
	os.Exit(exitcodes.FromError(err))
}

// loadConfig reads the configuration and applies the logging flags on top
// of the logging section. The returned closer releases the log file sink.
func loadConfig(c *cli.Context) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if v := c.String("verbosity"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if v := c.String("log-file"); v != "" {
		cfg.Logging.File = v
	}
	if v := c.String("state-file"); v != "" {
		cfg.Scrub.StateFile = v
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Logging.Format)

	var closer io.Closer = nopCloser{}
	if cfg.Logging.File != "" {
		closer = logging.AddFile(logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func runScrub(c *cli.Context) error {
	cfg, logFile, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if c.IsSet("tool-timeout") {
		cfg.Tools.Timeout = c.Duration("tool-timeout")
	}

	opts := orchestrator.Options{}
	if c.Bool("output-json") {
		opts.Reporter = progress.NewJSONReporter(os.Stderr, 2*time.Second)
	} else if !c.Bool("no-progress") && term.IsTerminal(int(os.Stderr.Fd())) {
		opts.ProgressWriter = os.Stderr
	}

	orch, err := orchestrator.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	// SIGINT/SIGTERM cancel the run; the destination is still dropped.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := orch.Run(ctx)

	if result := orch.Result(); result != nil && (c.Bool("output-json") || c.String("output-file") != "") {
		if err := outputJSON(c, result); err != nil {
			logging.Warn("Failed to output JSON: %v", err)
		}
	}

	return runErr
}

func healthCheck(c *cli.Context) error {
	cfg, logFile, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logFile.Close()

	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	result, err := orch.HealthCheck(c.Context)
	if err != nil {
		return err
	}

	for _, ep := range []struct {
		label string
		h     orchestrator.EndpointHealth
	}{{"Source", result.Source}, {"Destination", result.Destination}} {
		if ep.h.Connected {
			fmt.Printf("%-12s OK   %s/%s (%dms)\n", ep.label, ep.h.Address, ep.h.Database, ep.h.LatencyMs)
		} else {
			fmt.Printf("%-12s FAIL %s/%s: %s\n", ep.label, ep.h.Address, ep.h.Database, ep.h.Error)
		}
	}
	for _, tool := range result.Tools {
		if tool.Found {
			fmt.Printf("%-12s OK   %s\n", tool.Name, tool.Path)
		} else {
			fmt.Printf("%-12s FAIL not found on PATH\n", tool.Name)
		}
	}

	if !result.Healthy {
		return fmt.Errorf("health check failed")
	}
	return nil
}

func showPolicy(c *cli.Context) error {
	cfg, logFile, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logFile.Close()

	table := orchestrator.Table(cfg, orchestrator.Generator(cfg))

	fmt.Printf("%-22s %-10s %-8s %s\n", "Collection", "Plan", "Indexes", "Fields")
	fmt.Println(strings.Repeat("-", 80))
	for _, name := range table.Collections() {
		entry, _ := table.Lookup(name)
		indexes := "kept"
		if entry.DropIndexes {
			indexes = "dropped"
		}
		fields := strings.Join(entry.Plan.Fields(), ", ")
		if entry.ProtectOperators {
			fields += " (operators excluded)"
		}
		fmt.Printf("%-22s %-10s %-8s %s\n", name, entry.Plan.Kind(), indexes, fields)
	}

	fmt.Printf("\nSafe collections: %s\n", strings.Join(table.SafeCollections(), ", "))
	fmt.Printf("Operator accounts: %s\n", strings.Join(table.Operators(), ", "))
	return nil
}

func showConfig(c *cli.Context) error {
	cfg, logFile, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logFile.Close()

	data, err := yaml.Marshal(cfg.Sanitized())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, logFile, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logFile.Close()

	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	if days := c.Int("prune"); days > 0 {
		deleted, err := orch.PruneHistory(days)
		if err != nil {
			return err
		}
		logging.Info("Pruned %d runs older than %d days", deleted, days)
	}

	if c.Bool("interactive") {
		return tui.Run(orch)
	}

	// If --run flag is provided, show details for that specific run
	if runID := c.String("run"); runID != "" {
		return orch.ShowRunDetails(runID)
	}

	return orch.ShowHistory()
}

func outputJSON(c *cli.Context, result *orchestrator.RunResult) error {
	data, err := result.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	// Write to stdout if --output-json flag is set
	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	// Write to file if --output-file flag is set
	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
