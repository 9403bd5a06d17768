package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/quantarc/portsim/internal/backtest/engine"
	"github.com/quantarc/portsim/internal/loader"
	"github.com/quantarc/portsim/internal/logger"
	"github.com/quantarc/portsim/internal/metrics"
	"github.com/quantarc/portsim/internal/portfolio"
	"github.com/quantarc/portsim/internal/series"
	"github.com/quantarc/portsim/internal/stats"
	"github.com/quantarc/portsim/internal/strategy"
	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/internal/writer"
	"github.com/quantarc/portsim/pkg/errors"
)

// RunState is the engine lifecycle state. HALTED is terminal: once the
// drawdown limit is breached there is no resume path.
type RunState string

const (
	RunStateRunning RunState = "RUNNING"
	RunStateHalted  RunState = "HALTED"
)

type seriesKey struct {
	strategy string
	symbol   string
}

type BacktestEngineV1 struct {
	config        SimulationConfig
	registry      *strategy.Registry
	dataPattern   string
	resultsFolder string
	statsPath     string
	log           *logger.Logger
	portfolio     *portfolio.Portfolio
	augmented     map[seriesKey]*series.Augmented
	state         RunState
}

func NewBacktestEngineV1() engine.Engine {
	return &BacktestEngineV1{
		config:    EmptyConfig(),
		augmented: make(map[seriesKey]*series.Augmented),
		state:     RunStateRunning,
	}
}

// Initialize implements engine.Engine.
func (b *BacktestEngineV1) Initialize(config string) error {
	if err := yaml.Unmarshal([]byte(config), &b.config); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse engine config", err)
	}

	if err := b.config.Validate(); err != nil {
		return err
	}

	var loggerErr error

	b.log, loggerErr = logger.NewLogger()
	if loggerErr != nil {
		return loggerErr
	}

	b.registry = strategy.NewRegistry()

	b.log.Debug("backtest engine initialized",
		zap.String("portfolio", b.config.Portfolio.Name),
		zap.Float64("start_equity", b.config.Portfolio.StartEquity),
	)

	return nil
}

// SetDataPath implements engine.Engine.
func (b *BacktestEngineV1) SetDataPath(path string) error {
	if err := b.requireInitialized(); err != nil {
		return err
	}

	b.dataPattern = path
	b.log.Debug("data path set", zap.String("pattern", path))

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *BacktestEngineV1) SetResultsFolder(folder string) error {
	if err := b.requireInitialized(); err != nil {
		return err
	}

	b.resultsFolder = folder
	b.log.Debug("results folder set", zap.String("folder", folder))

	return nil
}

// SetStatsPath implements engine.Engine.
func (b *BacktestEngineV1) SetStatsPath(path string) error {
	if err := b.requireInitialized(); err != nil {
		return err
	}

	b.statsPath = path

	return nil
}

// LoadStrategy implements engine.Engine. The strategy must trade the single
// timeframe the portfolio is configured for.
func (b *BacktestEngineV1) LoadStrategy(s strategy.Strategy) error {
	if err := b.requireInitialized(); err != nil {
		return err
	}

	if s.Timeframe() != b.config.Portfolio.Timeframe() {
		return errors.Newf(errors.ErrCodeBacktestConfigError,
			"strategy %s trades %s but the portfolio is configured for %s",
			s.Name(), s.Timeframe(), b.config.Portfolio.Timeframe())
	}

	if err := b.registry.Register(s); err != nil {
		return err
	}

	b.log.Debug("strategy loaded",
		zap.String("strategy", s.Name()),
		zap.Int("total_strategies", b.registry.Len()),
	)

	return nil
}

// GetConfigSchema implements engine.Engine.
func (b *BacktestEngineV1) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

// State returns the engine lifecycle state.
func (b *BacktestEngineV1) State() RunState {
	return b.state
}

// Run implements engine.Engine.
func (b *BacktestEngineV1) Run(ctx context.Context, onProcessData optional.Option[engine.OnProcessDataCallback]) (types.RunResult, error) {
	if err := b.preRunCheck(); err != nil {
		return types.RunResult{}, err
	}

	store, err := b.loadStats()
	if err != nil {
		return types.RunResult{}, err
	}

	b.portfolio, err = portfolio.New(b.config.Portfolio, store, b.log)
	if err != nil {
		return types.RunResult{}, err
	}

	bySymbol, err := b.loadSeries()
	if err != nil {
		return types.RunResult{}, err
	}

	if err := b.precomputeFeatures(bySymbol); err != nil {
		return types.RunResult{}, err
	}

	start, finish, err := b.loopBounds(bySymbol)
	if err != nil {
		return types.RunResult{}, err
	}

	runID := uuid.New().String()
	b.state = RunStateRunning

	b.log.Info("run started",
		zap.String("run_id", runID),
		zap.Int("start", start),
		zap.Int("finish", finish),
		zap.Int("strategies", b.registry.Len()),
	)

	if err := b.runLoop(ctx, start, finish, onProcessData); err != nil {
		return types.RunResult{}, err
	}

	shared := bySymbol[b.config.Portfolio.SymbolsFlattened()[0]]
	result := metrics.Aggregate(b.portfolio, runID,
		shared.Bar(start).Timestamp, shared.Bar(finish-1).Timestamp,
		b.config.RiskFreeRate)

	if err := b.writeResults(result); err != nil {
		return types.RunResult{}, err
	}

	b.log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("state", string(b.state)),
		zap.Int("closed_trades", result.Portfolio.ClosedTrades),
		zap.Float64("final_equity", result.Portfolio.FinalEquity),
	)

	return result, nil
}

// runLoop is the driving loop: one shared bar index across all assets, and
// within each bar every class, symbol, and strategy visited in configured
// order. Determinism of this ordering is load-bearing for reproducible runs.
func (b *BacktestEngineV1) runLoop(ctx context.Context, start, finish int, onProcessData optional.Option[engine.OnProcessDataCallback]) error {
	universe := b.config.Portfolio.Universe
	total := finish - 1 - start
	current := 0

	for index := start; index < finish-1; index++ {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeBacktestConfigError, "run cancelled", ctx.Err())
		default:
		}

		for _, class := range universe {
			for _, symbol := range class.Symbols {
				for _, strategyName := range b.config.Portfolio.Strategies {
					b.stepOne(index, finish, class.Name, symbol, strategyName)
				}
			}
		}

		if b.portfolio.Halted() {
			b.state = RunStateHalted
		}

		current++

		if onProcessData.IsSome() {
			onProcessData.Unwrap()(current, total)
		}
	}

	return nil
}

// stepOne advances one (symbol, strategy) pair by one bar: signal evaluation
// first, then the final-bar unrealized mark, then stop monitoring.
func (b *BacktestEngineV1) stepOne(index, finish int, className, symbol, strategyName string) {
	aug := b.augmented[seriesKey{strategy: strategyName, symbol: symbol}]
	strat, err := b.registry.Get(strategyName)
	if err != nil {
		return
	}

	view := aug.View(index)

	if sig := strat.CheckForSignal(view); sig.IsSome() {
		s := sig.Unwrap()
		s.Symbol = symbol
		s.AssetClass = className
		s.Strategy = strategyName
		s.Timeframe = b.config.Portfolio.Timeframe()
		s.Mode = types.ExitModeSignal

		b.processSignal(s)
	}

	if index == finish-2 {
		finalBar := aug.View(finish - 1).Bar
		b.portfolio.MarkOpenPosition(symbol, strategyName, finalBar.Close, finalBar.Timestamp)
	}

	if exit := b.portfolio.UpdatePrice(symbol, view.Bar, strategyName); exit.IsSome() {
		b.processSignal(exit.Unwrap())
	}
}

// processSignal routes a signal through the position lifecycle: an opposite
// signal exits the open position without reversing into a new one, a repeat
// signal in the held direction is ignored, and a fresh signal opens a
// position only if portfolio limits admit it.
func (b *BacktestEngineV1) processSignal(sig types.Signal) {
	pos := b.portfolio.Position(sig.Symbol, sig.Strategy)
	if pos.IsSome() {
		if pos.Unwrap().Direction != sig.Direction {
			b.portfolio.ClosePosition(sig, sig.Mode)
		}

		return
	}

	if !b.portfolio.WithinLimits(sig) {
		return
	}

	b.portfolio.OpenPosition(sig)
}

func (b *BacktestEngineV1) loadStats() (stats.Store, error) {
	if b.statsPath == "" {
		return nil, nil
	}

	store, err := stats.LoadFile(b.statsPath)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// loadSeries reads every discovered data file whose symbol belongs to the
// universe and whose timeframe matches the portfolio configuration.
func (b *BacktestEngineV1) loadSeries() (map[string]*series.Series, error) {
	files, err := loader.Discover(b.dataPattern)
	if err != nil {
		return nil, err
	}

	timeframe := b.config.Portfolio.Timeframe()
	bySymbol := make(map[string]*series.Series)

	for _, file := range files {
		if file.Timeframe != timeframe {
			b.log.Warn("skipping data file on timeframe mismatch",
				zap.String("path", file.Path),
				zap.String("timeframe", string(file.Timeframe)),
			)

			continue
		}

		class, err := b.config.Portfolio.AssetClassOf(file.Symbol)
		if err != nil {
			b.log.Warn("skipping data file for symbol outside the universe",
				zap.String("path", file.Path),
				zap.String("symbol", file.Symbol),
			)

			continue
		}

		bars, err := loader.ReadBars(file.Path)
		if err != nil {
			return nil, err
		}

		s, err := series.New(file.Symbol, class, timeframe, bars)
		if err != nil {
			return nil, err
		}

		bySymbol[file.Symbol] = s
	}

	for _, symbol := range b.config.Portfolio.SymbolsFlattened() {
		if _, ok := bySymbol[symbol]; !ok {
			return nil, errors.Newf(errors.ErrCodeDataNotFound, "no data file for universe symbol %q", symbol)
		}
	}

	return bySymbol, nil
}

// precomputeFeatures computes every strategy's feature columns for every
// symbol concurrently. Each (strategy, symbol) pair is independent, so the
// fan-out has no shared mutable state beyond the result map.
func (b *BacktestEngineV1) precomputeFeatures(bySymbol map[string]*series.Series) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, strategyName := range b.config.Portfolio.Strategies {
		strat, err := b.registry.Get(strategyName)
		if err != nil {
			return err
		}

		for _, symbol := range b.config.Portfolio.SymbolsFlattened() {
			wg.Add(1)

			go func(strat strategy.Strategy, symbol string) {
				defer wg.Done()

				aug, err := augment(strat, bySymbol[symbol])

				mu.Lock()
				defer mu.Unlock()

				if err != nil {
					if firstErr == nil {
						firstErr = err
					}

					return
				}

				b.augmented[seriesKey{strategy: strat.Name(), symbol: symbol}] = aug
			}(strat, symbol)
		}
	}

	wg.Wait()

	return firstErr
}

func augment(strat strategy.Strategy, s *series.Series) (*series.Augmented, error) {
	cols, cross, err := strat.FeatureData(s)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeFeatureDataFailed, err,
			"feature computation failed for %s on %s", strat.Name(), s.Symbol)
	}

	return s.WithColumns(cols, cross)
}

// loopBounds resolves the shared bar range: configured bounds clamped to the
// shortest series, since every symbol must have a bar at every index.
func (b *BacktestEngineV1) loopBounds(bySymbol map[string]*series.Series) (int, int, error) {
	shortest := 0

	for _, s := range bySymbol {
		if shortest == 0 || s.Len() < shortest {
			shortest = s.Len()
		}
	}

	start := b.config.StartIndex.TakeOr(0)
	finish := b.config.FinishIndex.TakeOr(shortest)

	if finish > shortest {
		finish = shortest
	}

	if finish-start < 2 {
		return 0, 0, errors.Newf(errors.ErrCodeBacktestNoData,
			"bar range [%d, %d) is too short to simulate", start, finish)
	}

	return start, finish, nil
}

func (b *BacktestEngineV1) writeResults(result types.RunResult) error {
	w, err := writer.NewResultWriter(b.log)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.RecordRun(result); err != nil {
		return err
	}

	return w.Write(b.resultsFolder, result)
}

func (b *BacktestEngineV1) requireInitialized() error {
	if b.log == nil {
		return errors.New(errors.ErrCodeBacktestNotPrepared, "engine is not initialized")
	}

	return nil
}

func (b *BacktestEngineV1) preRunCheck() error {
	if err := b.requireInitialized(); err != nil {
		return err
	}

	if b.registry.Len() == 0 {
		b.log.Error("no strategies loaded")

		return errors.New(errors.ErrCodeBacktestNoStrategies, "no strategies loaded")
	}

	if b.dataPattern == "" {
		b.log.Error("no data path set")

		return errors.New(errors.ErrCodeBacktestNoData, "no data path set")
	}

	if b.resultsFolder == "" {
		b.log.Error("no results folder set")

		return errors.New(errors.ErrCodeBacktestConfigError, "no results folder set")
	}

	return nil
}

var _ engine.Engine = (*BacktestEngineV1)(nil)
