package internal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/txconfirm/config"
	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/metrics"
	"github.com/vadiminshakov/txconfirm/internal/services/constants"
	"github.com/vadiminshakov/txconfirm/internal/services/fee"
	"github.com/vadiminshakov/txconfirm/internal/services/feeds"
	"github.com/vadiminshakov/txconfirm/internal/services/flow"
	"github.com/vadiminshakov/txconfirm/internal/services/hub"
	"github.com/vadiminshakov/txconfirm/internal/services/orchestrator"
	"github.com/vadiminshakov/txconfirm/internal/services/submission"
	"github.com/vadiminshakov/txconfirm/internal/storage/submissions"
	"github.com/vadiminshakov/txconfirm/internal/tui"
	"github.com/vadiminshakov/txconfirm/internal/web"
)

// App one confirmation screen with its pipeline, web surface and optional terminal screen.
type App struct {
	l        *zap.Logger
	cfg      config.Config
	registry *prometheus.Registry

	hub       *hub.Hub
	estimator *fee.Estimator
	journal   *submissions.Journal
	screen    *orchestrator.Orchestrator
	web       *web.Server
}

// NewApp wires the pipeline for the configured asset and flow.
func NewApp(ctx context.Context, l *zap.Logger, cfg config.Config) (*App, error) {
	asset, ok := cfg.AssetByRef(cfg.Asset)
	if !ok {
		return nil, errors.Errorf("asset %s is not configured", cfg.Asset.String())
	}
	utility, ok := cfg.Utility(asset.Ref.ChainID)
	if !ok {
		return nil, errors.Errorf("no native asset configured for chain %s", asset.Ref.ChainID)
	}
	f, err := newFlow(cfg)
	if err != nil {
		return nil, err
	}

	var approve approveFunc
	if !cfg.Headless {
		approve = tui.ApproveSigning
	}
	provider, err := newServiceProvider(ctx, l, cfg, approve)
	if err != nil {
		return nil, errors.Wrap(err, "create service provider")
	}
	account := cfg.Account
	if account == "" {
		account = provider.Signer().Address()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(registry); err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	journal, err := submissions.Open(cfg.JournalDir)
	if err != nil {
		return nil, errors.Wrap(err, "open submission journal")
	}
	for _, intent := range journal.Pending() {
		l.Warn("submission outcome unknown, check the chain before retrying",
			zap.String("request_id", intent.RequestID),
			zap.String("flow", intent.Flow),
			zap.String("amount", intent.Amount.String()),
			zap.Time("time", intent.Time))
	}

	chain := provider.Chain()
	feedHub := hub.New(l,
		feeds.NewBalancePoller(l, chain, cfg.PollInterval),
		feeds.NewPricePoller(l, provider.Pricer(), []domain.Asset{asset, utility}, cfg.PollInterval),
		hub.WithMetrics(m))
	estimator := fee.NewEstimator(l, chain, chain, fee.WithTimeout(cfg.EstimateTimeout), fee.WithMetrics(m))
	coordinator := submission.NewCoordinator(l, chain, provider.Signer(), chain,
		submission.WithJournal(journal),
		submission.WithMetrics(m))

	screen := orchestrator.New(l, orchestrator.Config{
		Account:      account,
		Asset:        asset,
		UtilityAsset: utility,
		Currency:     provider.Pricer().Currency(),
		Debounce:     cfg.Debounce,
		Flow:         f,
	}, orchestrator.Deps{
		Feeds:     feedHub,
		Estimator: estimator,
		Submitter: coordinator,
		Constants: constants.NewCachedProvider(l, chain, cfg.ConstantsTTL),
		Metrics:   m,
	})

	l.Info("confirmation screen ready",
		zap.String("account", account),
		zap.String("asset", asset.Symbol),
		zap.String("flow", f.Kind().String()),
		zap.Bool("simulate", cfg.Simulate))

	return &App{
		l:         l,
		cfg:       cfg,
		registry:  registry,
		hub:       feedHub,
		estimator: estimator,
		journal:   journal,
		screen:    screen,
		web:       web.NewServer(l, cfg.Listen, screen, journal, registry),
	}, nil
}

// Run serves the web surface and, unless headless, the terminal screen.
// It returns when ctx is cancelled or the terminal screen finishes.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.web.Start(gctx)
	})
	if !a.cfg.Headless {
		g.Go(func() error {
			defer cancel()
			err := tui.Run(gctx, a.screen, a.cfg.Flow.Kind == domain.FlowTransfer)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// Close stops the screen and releases feeds and storage.
func (a *App) Close() {
	a.screen.Close()
	a.estimator.Close()
	a.hub.Close()
	if err := a.journal.Close(); err != nil {
		a.l.Error("failed to close submission journal", zap.Error(err))
	}
}

func newFlow(cfg config.Config) (flow.Flow, error) {
	fc := cfg.Flow
	switch fc.Kind {
	case domain.FlowTransfer:
		return flow.Transfer{}, nil
	case domain.FlowBondInitiate:
		return flow.BondInitiate{Payee: fc.Payee, Targets: fc.Targets, MinBond: fc.MinBond}, nil
	case domain.FlowBondExisting:
		return flow.BondExisting{Stash: fc.Stash}, nil
	case domain.FlowPoolCreate:
		return flow.PoolCreate{Name: fc.PoolName, NextPoolID: fc.NextPoolID, MinCreateBond: fc.MinCreateBond}, nil
	case domain.FlowSwap:
		if fc.Route == nil {
			return flow.Swap{}, nil
		}
		out, ok := cfg.AssetByRef(fc.Route.Out)
		if !ok {
			return nil, errors.Errorf("swap output asset %s is not configured", fc.Route.Out.String())
		}
		return flow.Swap{Route: &flow.Route{
			Path:             fc.Route.Path,
			Out:              out,
			ExpectedOut:      fc.Route.ExpectedOut,
			MinReceived:      fc.Route.MinReceived,
			DestinationChain: fc.Route.DestinationChain,
		}}, nil
	default:
		return nil, errors.Errorf("unsupported flow %s", fc.Kind.String())
	}
}
