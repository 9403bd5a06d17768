package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	baseengine "github.com/quantarc/portsim/internal/backtest/engine"
	engine "github.com/quantarc/portsim/internal/backtest/engine/engine_v1"
	"github.com/quantarc/portsim/internal/strategy"
)

// runAction wires the configured engine together and executes one simulation.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataPattern := cmd.String("data")
	resultsFolder := cmd.String("results")
	statsPath := cmd.String("stats")

	config, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	backtester := engine.NewBacktestEngineV1()

	if err := backtester.Initialize(string(config)); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := backtester.SetDataPath(dataPattern); err != nil {
		return err
	}

	if err := backtester.SetResultsFolder(resultsFolder); err != nil {
		return err
	}

	if statsPath != "" {
		if err := backtester.SetStatsPath(statsPath); err != nil {
			return err
		}
	}

	for _, s := range []strategy.Strategy{
		strategy.NewEMACross50200(),
		strategy.NewEMACross1020(),
	} {
		if err := backtester.LoadStrategy(s); err != nil {
			return fmt.Errorf("failed to load strategy %s: %w", s.Name(), err)
		}
	}

	bar := progressbar.Default(1)
	bar.Describe("Simulating")

	callback := baseengine.OnProcessDataCallback(func(current, total int) {
		bar.ChangeMax(total)
		bar.Set(current)
	})

	result, err := backtester.Run(ctx, optional.Some(callback))
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	log.Printf("Run %s finished: %d trades, final equity %.2f %s, results in %s",
		result.Portfolio.RunID, result.Portfolio.ClosedTrades,
		result.Portfolio.FinalEquity, result.Portfolio.Currency, resultsFolder)

	return nil
}

// schemaAction prints the JSON schema of the engine configuration.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	config := engine.EmptyConfig()

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "portsim",
		Usage: "Event-driven portfolio simulation over historical bar data",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a simulation",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the simulation YAML config",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Glob pattern for CSV data files named SYMBOL_TIMEFRAME_*.csv",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "results",
						Aliases: []string{"r"},
						Usage:   "Output folder for run results",
						Value:   "./results",
					},
					&cli.StringFlag{
						Name:    "stats",
						Aliases: []string{"s"},
						Usage:   "Optional YAML file with prior trade statistics for Kelly sizing",
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the simulation config",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
