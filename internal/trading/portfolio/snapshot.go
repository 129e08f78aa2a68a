package portfolio

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const tradingDaysPerYear = 252

// Funds is the cash side of a portfolio as reported by the broker.
type Funds struct {
	AvailableCash decimal.Decimal
	UsedMargin    decimal.Decimal
}

// FundsProvider fetches broker funds for a session. It is called outside any
// ledger transaction.
type FundsProvider interface {
	Funds(ctx context.Context, session *models.TradingSession) (Funds, error)
}

// Stats are the risk statistics of a total-value series.
type Stats struct {
	VaR95       decimal.Decimal
	MaxDrawdown decimal.Decimal
	Sharpe      decimal.Decimal
}

// ComputeStats derives VaR95, max drawdown and the annualized Sharpe ratio
// from a chronological series of total values; the last element is the
// current value. The result depends only on the series.
func ComputeStats(series []decimal.Decimal) Stats {
	stats := Stats{VaR95: decimal.Zero, MaxDrawdown: decimal.Zero, Sharpe: decimal.Zero}
	if len(series) == 0 {
		return stats
	}

	values := make([]float64, len(series))
	for i, v := range series {
		values[i] = v.InexactFloat64()
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}

	peak := values[0]
	drawdown := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown = math.Max(drawdown, (peak-v)/peak)
		}
	}
	stats.MaxDrawdown = decimal.NewFromFloat(drawdown).Round(6)

	if len(returns) == 0 {
		return stats
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(0.05 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	p5 := sorted[rank-1]
	if p5 < 0 {
		current := series[len(series)-1]
		stats.VaR95 = decimal.NewFromFloat(-p5).Mul(current).Round(pricePlaces)
	}

	if len(returns) >= 2 {
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		std := math.Sqrt(variance / float64(len(returns)-1))
		if std > 0 {
			stats.Sharpe = decimal.NewFromFloat(mean / std * math.Sqrt(tradingDaysPerYear)).Round(6)
		}
	}
	return stats
}

// TradingDayStart returns midnight of t's trading day in loc.
func TradingDayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Snapshot appends a portfolio snapshot for a session and evaluates it for
// risk in the same transaction.
func (a *Aggregator) Snapshot(ctx context.Context, actor model.Actor, sessionID uuid.UUID, limits config.RiskLimits) (*models.PortfolioSnapshot, error) {
	session, err := a.store.Reader().GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var broker *Funds
	if a.funds != nil {
		f, err := a.funds.Funds(ctx, session)
		if err != nil {
			return nil, errors.BrokerUnavailable.Explain("failed to fetch funds for session %s", sessionID).Wrap(err)
		}
		broker = &f
	}

	var snap *models.PortfolioSnapshot
	err = a.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		positions, err := tx.ListPositions(ctx, sessionID)
		if err != nil {
			return err
		}

		at := a.now().UTC()
		snap = a.rollup(session, positions, broker, at)

		if err := a.setDayPnl(ctx, tx, snap, at); err != nil {
			return err
		}

		history, err := tx.RecentSnapshots(ctx, sessionID, a.policy.StatsWindow)
		if err != nil {
			return err
		}
		series := make([]decimal.Decimal, 0, len(history)+1)
		for _, h := range history {
			series = append(series, h.TotalValue)
		}
		stats := ComputeStats(append(series, snap.TotalValue))
		snap.Var95 = stats.VaR95
		snap.MaxDrawdown = stats.MaxDrawdown
		snap.SharpeRatio = stats.Sharpe

		if err := tx.AppendSnapshot(ctx, snap); err != nil {
			return err
		}
		if err := a.recorder.Record(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       audit.ActionSnapshotCreated,
			ResourceType: audit.ResourceSnapshot,
			ResourceID:   snap.ID.String(),
			SessionID:    &sessionID,
			NewValues:    snap,
		}); err != nil {
			return err
		}
		_, err = a.risk.EvaluatePortfolio(ctx, tx, actor, snap, limits)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Portfolio snapshot created",
		zap.String("session_id", sessionID.String()),
		zap.String("total_value", snap.TotalValue.String()),
		zap.String("day_pnl", snap.DayPnl.String()))
	return snap, nil
}

// evaluateHoldings runs the portfolio limits against the session's positions
// as they stand in tx, without appending a snapshot. VaR needs the snapshot
// history and is left to Snapshot. With broker funds wired, capital is taken
// from the latest snapshot since the broker is not queried inside a
// transaction.
func (a *Aggregator) evaluateHoldings(ctx context.Context, tx *repository.Tx, actor model.Actor, session *models.TradingSession, limits config.RiskLimits) error {
	positions, err := tx.ListPositions(ctx, session.ID)
	if err != nil {
		return err
	}

	var broker *Funds
	if a.funds != nil {
		last, err := tx.LatestSnapshot(ctx, session.ID)
		switch {
		case err == nil:
			margin := decimal.Zero
			for _, p := range positions {
				margin = margin.Add(p.MarginUsed)
			}
			capital := last.AvailableCash.Add(last.UsedMargin)
			broker = &Funds{AvailableCash: capital.Sub(margin), UsedMargin: margin}
		case !errors.Is(err, errors.NotFound):
			return err
		}
	}

	at := a.now().UTC()
	snap := a.rollup(session, positions, broker, at)
	snap.ID = uuid.Nil
	if err := a.setDayPnl(ctx, tx, snap, at); err != nil {
		return err
	}
	_, err = a.risk.EvaluatePortfolio(ctx, tx, actor, snap, limits)
	return err
}

// setDayPnl measures total P&L against the last snapshot taken before the
// trading day of at began.
func (a *Aggregator) setDayPnl(ctx context.Context, tx *repository.Tx, snap *models.PortfolioSnapshot, at time.Time) error {
	baseline := decimal.Zero
	prev, err := tx.LastSnapshotBefore(ctx, snap.TradingSessionID, TradingDayStart(at, a.policy.Location))
	switch {
	case err == nil:
		baseline = prev.TotalPnl
	case !errors.Is(err, errors.NotFound):
		return err
	}
	snap.DayPnl = snap.TotalPnl.Sub(baseline)
	return nil
}

// rollup sums positions into a snapshot. Without broker funds, cash is the
// session capital plus realized P&L less the margin in use.
func (a *Aggregator) rollup(session *models.TradingSession, positions []models.Position, broker *Funds, at time.Time) *models.PortfolioSnapshot {
	realized, unrealized, margin := decimal.Zero, decimal.Zero, decimal.Zero
	for _, p := range positions {
		realized = realized.Add(p.RealizedPnl)
		unrealized = unrealized.Add(p.UnrealizedPnl)
		margin = margin.Add(p.MarginUsed)
	}

	cash := session.InitialCapital.Add(realized).Sub(margin)
	if broker != nil {
		cash = broker.AvailableCash
		margin = broker.UsedMargin
	}

	return &models.PortfolioSnapshot{
		ID:                uuid.New(),
		TradingSessionID:  session.ID,
		TotalValue:        cash.Add(margin).Add(unrealized),
		AvailableCash:     cash,
		UsedMargin:        margin,
		TotalPnl:          realized.Add(unrealized),
		RealizedPnl:       realized,
		UnrealizedPnl:     unrealized,
		SnapshotTimestamp: at,
		CreatedAt:         at,
	}
}

// Summary is the read-only view of a session's portfolio.
type Summary struct {
	Snapshot  *models.PortfolioSnapshot `json:"snapshot"`
	Positions []models.Position         `json:"positions"`
}

// Summary returns the latest snapshot (nil before the first cycle) and the
// current positions of a session.
func (a *Aggregator) Summary(ctx context.Context, sessionID uuid.UUID) (*Summary, error) {
	reader := a.store.Reader()
	positions, err := reader.ListPositions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := reader.LatestSnapshot(ctx, sessionID)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	return &Summary{Snapshot: snap, Positions: positions}, nil
}
