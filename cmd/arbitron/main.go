// Command arbitron runs the arbitrage detection engine: either the
// REST-polling scanner or the websocket stream listener, with optional
// persistence and execution.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/arbitron/internal/config"
	"github.com/sawpanic/arbitron/internal/domain"
	"github.com/sawpanic/arbitron/internal/executor"
	"github.com/sawpanic/arbitron/internal/httpserver"
	"github.com/sawpanic/arbitron/internal/metrics"
	"github.com/sawpanic/arbitron/internal/persistence"
	csvstore "github.com/sawpanic/arbitron/internal/persistence/csv"
	pgstore "github.com/sawpanic/arbitron/internal/persistence/postgres"
	"github.com/sawpanic/arbitron/internal/scanner"
	"github.com/sawpanic/arbitron/internal/stream"
	"github.com/sawpanic/arbitron/internal/validator"
	"github.com/sawpanic/arbitron/internal/venue"
)

var (
	configPath  string
	envFile     string
	persistFlag bool
	tradeFlag   bool
	httpHost    string
	httpPort    int
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:   "arbitron",
		Short: "Triangular arbitrage detection engine",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/arbitron.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file holding API_KEY/API_SECRET")
	rootCmd.PersistentFlags().BoolVar(&persistFlag, "persist", false, "Persist detected opportunities")
	rootCmd.PersistentFlags().BoolVar(&tradeFlag, "trade", false, "Execute detected opportunities")
	rootCmd.PersistentFlags().StringVar(&httpHost, "http-host", "127.0.0.1", "Metrics/health server host")
	rootCmd.PersistentFlags().IntVar(&httpPort, "http-port", 9090, "Metrics/health server port")

	rootCmd.AddCommand(
		&cobra.Command{Use: "scan", Short: "Run the REST-polling scanner loop", RunE: runScan},
		&cobra.Command{Use: "stream", Short: "Run the websocket stream listener", RunE: runStream},
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// wiring holds the collaborators shared by both the scan and stream
// entry points, assembled once from config and flags.
type wiring struct {
	cfg    config.Config
	mode   domain.Mode
	client *venue.Client
	reg    *metrics.Registry
	store  persistence.OpportunityStore
	exec   *executor.Executor
	srv    *httpserver.Server
}

func newValidatorFactory(client *venue.Client, cfg config.Config) func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
	return func(symbols map[string]domain.SymbolInfo, prices map[string]float64) *validator.Validator {
		return validator.New(client, symbols, prices, validator.Config{
			Holdings:    cfg.HoldingsSet(),
			Stablecoins: cfg.StablecoinsSet(),
			USDBudget:   cfg.USDBudget,
		})
	}
}

func buildWiring(cmd *cobra.Command, driver string) (*wiring, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Driver = driver
	if cmd.Flags().Changed("persist") {
		cfg.Persist = persistFlag
	}
	if cmd.Flags().Changed("trade") {
		cfg.Trade = tradeFlag
	}
	mode := cfg.Mode()

	secrets := config.LoadSecrets(envFile)
	client := venue.NewClient(secrets.APIKey, secrets.APISecret, venue.Config{
		RequestsPerSecond: cfg.Venue.RequestsPerSecond,
		Burst:             cfg.Venue.Burst,
		DepthLimit:        cfg.Venue.DepthLimit,
	})

	reg := metrics.New(prometheus.DefaultRegisterer)

	var store persistence.OpportunityStore
	if cfg.Persist {
		if cfg.Postgres.Enabled {
			pg, err := pgstore.Open(pgstore.Config{
				DSN: cfg.Postgres.DSN, MaxOpenConns: 10, MaxIdleConns: 5,
				ConnMaxLifetime: time.Hour, QueryTimeout: 5 * time.Second,
			})
			if err != nil {
				return nil, err
			}
			store = pg
		} else {
			cs, err := csvstore.Open("arbitrage_data.csv")
			if err != nil {
				return nil, err
			}
			store = cs
		}
	}

	var exec *executor.Executor
	if cfg.Trade {
		exec = executor.New(client, nil, nil, executor.Config{Holdings: cfg.HoldingsSet(), MaxCycleLength: cfg.MaxCycleLength}, mode)
	}

	srv, err := httpserver.New(httpserver.Config{
		Host: httpHost, Port: httpPort,
		ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second,
	}, prometheus.DefaultGatherer)
	if err != nil {
		return nil, err
	}

	return &wiring{cfg: cfg, mode: mode, client: client, reg: reg, store: store, exec: exec, srv: srv}, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	w, err := buildWiring(cmd, "searcher")
	if err != nil {
		return err
	}

	s := scanner.New(w.client, scanner.Config{
		Interval:       50 * time.Millisecond,
		FiatExclusion:  w.cfg.FiatExclusionSet(),
		MaxCycleLength: w.cfg.MaxCycleLength,
		MinArbThresh:   w.cfg.MinArbThresh,
	}, w.exec, w.store, w.reg, w.mode, newValidatorFactory(w.client, w.cfg))

	return runWithServer(w, s.Run)
}

func runStream(cmd *cobra.Command, args []string) error {
	w, err := buildWiring(cmd, "listener")
	if err != nil {
		return err
	}

	tickers := func() []string {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		symbols, err := w.client.LoadSymbols(ctx, w.cfg.FiatExclusionSet())
		if err != nil {
			log.Warn().Err(err).Msg("stream: failed to refresh ticker set")
			return nil
		}
		names := make([]string, 0, len(symbols))
		for sym := range symbols {
			names = append(names, sym)
		}
		return names
	}

	l := stream.New(venue.SubscribeBookTicker, w.client, tickers, stream.Config{
		FiatExclusion:     w.cfg.FiatExclusionSet(),
		TickerSetInterval: 30 * time.Second,
		MaxCycleLength:    w.cfg.MaxCycleLength,
		MinArbThresh:      w.cfg.MinArbThresh,
	}, w.exec, w.store, w.reg, w.mode, newValidatorFactory(w.client, w.cfg))

	return runWithServer(w, l.Run)
}

// runWithServer runs the HTTP server and the detection loop until a
// shutdown signal, a server error, or the detection loop itself exits.
// A fatal (Precondition/Execution) error surfaced from the loop during
// trading (§6/§7) is returned so main's Execute/os.Exit path turns it
// into a non-zero exit rather than a graceful, silent shutdown.
func runWithServer(w *wiring, run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	var fatal error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("http server error")
		fatal = err
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("detection loop exited")
			fatal = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			log.Warn().Err(err).Msg("opportunity store close error")
		}
	}
	return fatal
}
