package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/alerting"
	"keen-oracle/internal/api"
	"keen-oracle/internal/config"
	"keen-oracle/internal/events"
	"keen-oracle/internal/feed"
	"keen-oracle/internal/metrics"
	"keen-oracle/internal/scheduler"
	"keen-oracle/internal/service"
	"keen-oracle/internal/storage"
	"keen-oracle/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Identity overrides the configured wallet for one-shot commands.
	Identity string
	Out      io.Writer

	clock func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		clock:  time.Now,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return alerting.Nop{}
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newPublisher(ctx context.Context) (events.Publisher, error) {
	if !a.Config.Redis.Enabled {
		return events.Nop{}, nil
	}
	cfg := a.Config.Redis
	return events.NewRedisPublisher(ctx, events.RedisOptions{
		Addr:          cfg.Addr,
		Password:      cfg.Password,
		DB:            cfg.DB,
		ChannelPrefix: cfg.ChannelPrefix,
	}, a.Logger)
}

func (a *App) newSource() (feed.PriceSource, func()) {
	cfg := a.Config.Reporter
	switch cfg.Source {
	case config.SourceChainlink:
		src := feed.NewChainlink(feed.ChainlinkOptions{
			RPCURL:  a.Config.Ethereum.RPCURL,
			Feeds:   cfg.Feeds,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
		return src, src.Close
	default:
		return feed.NewHTTP(feed.HTTPOptions{
			URLTemplate: cfg.URLTemplate,
			PricePath:   cfg.PricePath,
			Timeout:     cfg.RequestTimeout,
			UserAgent:   cfg.UserAgent,
		}, a.Logger), func() {}
	}
}

// configuredWallet is the identity of this process: the --identity override
// when given, the wallet section otherwise.
func (a *App) configuredWallet() (wallet.Provider, error) {
	if a.Identity != "" {
		return wallet.NewStatic(a.Identity), nil
	}
	return wallet.FromConfig(a.Config.Wallet.Address, a.Config.Wallet.PrivateKey)
}

func (a *App) openRepository(ctx context.Context) (*storage.StateRepository, error) {
	store, err := storage.Open(ctx, a.Config.Storage, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", a.Config.Storage.Driver, err)
	}
	if a.Config.Storage.Driver == config.StorageDriverMemory || a.Config.Storage.Driver == "" {
		a.Logger.Warn().Msg("storage.driver is memory; state will not survive a restart")
	}
	return storage.NewStateRepository(store, a.Config.Storage.Key), nil
}

type engine struct {
	svc       *service.Service
	repo      *storage.StateRepository
	publisher events.Publisher
	registry  *prometheus.Registry
}

func (e *engine) Close() {
	_ = e.publisher.Close()
	_ = e.repo.Close()
}

// openEngine loads persisted state into a fresh service that resolves
// identities through provider.
func (a *App) openEngine(ctx context.Context, provider wallet.Provider) (*engine, error) {
	params, err := a.Config.EngineParams()
	if err != nil {
		return nil, err
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.New(service.Options{
		Params:     params,
		Repository: repo,
		Wallet:     provider,
		Notifier:   a.newNotifier(),
		Channels:   a.Config.Alerting.Channels,
		Publisher:  publisher,
		Metrics:    metrics.New(registry),
		Clock:      a.clock,
	}, a.Logger)
	if err != nil {
		_ = publisher.Close()
		_ = repo.Close()
		return nil, err
	}

	if err := svc.Load(ctx); err != nil {
		_ = publisher.Close()
		_ = repo.Close()
		return nil, err
	}

	return &engine{svc: svc, repo: repo, publisher: publisher, registry: registry}, nil
}

// Run executes the long-running engine: scheduled aggregation, the optional
// reporter and the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// callers identify themselves per request in run mode
	eng, err := a.openEngine(ctx, wallet.NewContext(nil))
	if err != nil {
		return err
	}
	defer eng.Close()

	params := eng.svc.Params()
	opts := service.RunnerOptions{
		Pairs:   a.Config.Scheduler.Pairs,
		Locker:  eng.repo.Locker(),
		LockKey: a.Config.Scheduler.AdvisoryLockKey,
	}

	if a.Config.Scheduler.Enabled {
		opts.Aggregator = scheduler.New(scheduler.Options{
			Name:         "aggregation",
			Interval:     params.EpochDuration,
			Offset:       a.Config.Scheduler.AggregateOffset,
			AlignToStart: true,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
	}

	if a.Config.Reporter.Enabled {
		identity, err := a.configuredWallet()
		if err != nil {
			return err
		}
		source, closeSource := a.newSource()
		defer closeSource()

		stake, err := decimal.NewFromString(a.Config.Reporter.Stake)
		if err != nil {
			return fmt.Errorf("reporter.stake: %w", err)
		}
		reporter := service.NewReporter(eng.svc, source, identity, a.Config.Reporter.Pairs, stake, a.Config.Reporter.Workers, a.Logger)
		defer reporter.Close()

		opts.Reporter = reporter
		opts.ReportScheduler = scheduler.New(scheduler.Options{
			Name:         "reporter",
			Interval:     params.EpochDuration,
			Offset:       a.Config.Reporter.Offset,
			AlignToStart: true,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
	}

	if a.Config.API.Enabled {
		server := api.NewServer(eng.svc, api.Options{
			Listen:          a.Config.API.Listen,
			AllowedOrigins:  a.Config.API.AllowedOrigins,
			ShutdownTimeout: a.Config.API.ShutdownTimeout,
			Gatherer:        eng.registry,
		}, a.Logger)
		opts.Tasks = append(opts.Tasks, server.Run)
	}

	runner := service.NewRunner(eng.svc, opts, a.Logger)

	a.Logger.Info().
		Dur("epoch", params.EpochDuration).
		Strs("pairs", a.Config.Scheduler.Pairs).
		Bool("reporter", a.Config.Reporter.Enabled).
		Bool("api", a.Config.API.Enabled).
		Msg("starting oracle engine")
	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("oracle engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting submission history.
type ExportOptions struct {
	Pair          string
	From          *time.Time
	To            *time.Time
	PNGPath       string
	CSVPath       string
	ReputationPNG string
	MaxPoints     int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Pair  string
}

// SimulateOptions configure a dry run of one epoch.
type SimulateOptions struct {
	Pair   string
	Prices []decimal.Decimal
	Notify bool
}
