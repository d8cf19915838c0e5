package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyarb/polyarb/internal/engine"
	"github.com/polyarb/polyarb/internal/feed"
	"github.com/polyarb/polyarb/internal/ledger"
	"github.com/polyarb/polyarb/internal/scanner"
	"github.com/polyarb/polyarb/internal/server"
	"github.com/polyarb/polyarb/internal/server/handler"
)

// maxFeedTokens caps how many outcome tokens the websocket feed subscribes
// to at startup.
const maxFeedTokens = 100

// archiveSweepInterval is how often run mode checks for aged records when
// archival is enabled.
const archiveSweepInterval = 24 * time.Hour

// RunMode starts the full engine: scanner, market feed, coordinator, the
// optional archive sweep, and the optional operational HTTP API.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	risk := engine.NewRiskManager(engine.RiskConfig{
		InitialPositionSize: a.cfg.Risk.InitialPositionSize,
		MaxScalingSize:      a.cfg.Risk.MaxPositionSize,
		ScalingFactor:       a.cfg.Risk.ScalingFactor,
		ScalingWindow:       a.cfg.Risk.ScalingWindow,
		MinSuccessRate:      a.cfg.Risk.MinSuccessRate,
		EmergencyStopLoss:   a.cfg.Risk.EmergencyStopLoss,
	}, a.logger)

	validator := engine.NewPositionValidator(a.logger)
	monitor := engine.NewFillMonitor(deps.Exchange, a.cfg.Engine.PollInterval.Duration, a.logger)
	mitigator := engine.NewMitigator(
		deps.Exchange,
		a.cfg.Engine.PollInterval.Duration,
		a.cfg.Engine.RetryWindow.Duration,
		a.cfg.Engine.AssumedLoss,
		a.logger,
	)
	executor := engine.NewDualLegExecutor(deps.Exchange, monitor, mitigator, validator, a.logger)

	book := ledger.New(deps.ExecStore, deps.SignalBus, a.logger)
	coord := engine.NewCoordinator(
		risk, executor, validator, book, deps.Notifier,
		int64(a.cfg.Engine.MaxConcurrent),
		a.cfg.Engine.ExecutionTimeout.Duration,
		a.logger,
	)

	scan := scanner.New(deps.Exchange, coord, deps.RateLimiter, deps.BookCache, deps.PriceCache, a.scannerConfig(), a.logger)

	if deps.AuditStore != nil {
		if err := deps.AuditStore.Log(ctx, "app.start", map[string]any{
			"mode":          "run",
			"position_size": a.cfg.Risk.InitialPositionSize,
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scan.Run(ctx)
	})

	if a.cfg.Exchange.WsHost != "" {
		tokenIDs := a.watchTokenIDs(ctx, deps)
		if len(tokenIDs) > 0 {
			wsFeed := feed.NewMarketFeed(a.cfg.Exchange.WsHost, tokenIDs, deps.PriceCache, deps.BookCache, a.logger)
			g.Go(func() error {
				return wsFeed.Run(ctx)
			})
		}
	}

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.archiveSweep(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.New(
			server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
			server.Handlers{
				Health:        handler.NewHealthHandler(a.cfg.Mode),
				Executions:    handler.NewExecutionsHandler(book, deps.ExecStore, deps.AuditStore, a.logger),
				Risk:          handler.NewRiskHandler(risk, validator, a.logger),
				Opportunities: handler.NewOpportunitiesHandler(scan),
			},
			a.logger.With(slog.String("component", "server")),
		)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// ScanMode sweeps markets and reports opportunities without executing.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode (no execution)")

	scan := scanner.New(deps.Exchange, nil, deps.RateLimiter, deps.BookCache, deps.PriceCache, a.scannerConfig(), a.logger)

	ticker := time.NewTicker(a.cfg.Scanner.Interval.Duration)
	defer ticker.Stop()

	for {
		opps, err := scan.ScanOnce(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "scan sweep failed", slog.String("error", err.Error()))
		}
		for i, opp := range opps {
			if i >= 5 || !opp.Executable {
				break
			}
			a.logger.InfoContext(ctx, "opportunity",
				slog.String("market_id", opp.MarketID),
				slog.String("question", opp.MarketName),
				slog.Float64("price_a", opp.PriceA),
				slog.Float64("price_b", opp.PriceB),
				slog.Float64("edge_pct", opp.Edge),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ArchiveMode performs a one-shot archive of aged executions and audit
// entries, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires postgres and s3 configuration")
	}

	cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "archiving records", slog.Time("cutoff", cutoff))

	execs, err := deps.Archiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive executions: %w", err)
	}
	audits, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("executions", execs),
		slog.Int64("audit_entries", audits),
	)
	return nil
}

// archiveSweep archives aged records on a daily cadence.
func (a *App) archiveSweep(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if n, err := deps.Archiver.ArchiveExecutions(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived executions", slog.Int64("count", n))
			}
			if n, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "audit archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived audit entries", slog.Int64("count", n))
			}
		}
	}
}

// watchTokenIDs lists live markets once at startup and collects the outcome
// tokens the feed should subscribe to.
func (a *App) watchTokenIDs(ctx context.Context, deps *Dependencies) []string {
	quotes, err := deps.Exchange.ListMarkets(ctx, a.cfg.Scanner.PageSize, 0)
	if err != nil {
		a.logger.WarnContext(ctx, "initial market listing failed, feed disabled",
			slog.String("error", err.Error()))
		return nil
	}

	var tokenIDs []string
	for _, q := range quotes {
		if len(tokenIDs) >= maxFeedTokens {
			break
		}
		m := q.Market
		if m.TokenIDs[0] == "" || m.TokenIDs[1] == "" {
			continue
		}
		tokenIDs = append(tokenIDs, m.TokenIDs[0], m.TokenIDs[1])
	}
	return tokenIDs
}

func (a *App) scannerConfig() scanner.Config {
	return scanner.Config{
		Interval:             a.cfg.Scanner.Interval.Duration,
		PageSize:             a.cfg.Scanner.PageSize,
		MaxPages:             a.cfg.Scanner.MaxPages,
		MinEdge:              a.cfg.Scanner.MinEdge,
		MinVolume:            a.cfg.Scanner.MinVolume,
		MinPrice:             a.cfg.Scanner.MinPrice,
		MaxPrice:             a.cfg.Scanner.MaxPrice,
		MaxExecutionsPerScan: a.cfg.Scanner.MaxExecutionsPerScan,
		RateLimit:            a.cfg.Scanner.RateLimit,
		RateWindow:           a.cfg.Scanner.RateWindow.Duration,
	}
}
