package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyarb/polyarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts an execution and its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var completedAt *time.Time
	if !exec.CompletedAt.IsZero() {
		completedAt = &exec.CompletedAt
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, market_id, price_a, price_b, size, fill_status, pnl, notes, manual_review, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		exec.ID, exec.MarketID, exec.PriceA, exec.PriceB, exec.Size,
		string(exec.FillStatus), exec.PnL, exec.Notes, exec.ManualReview,
		exec.StartedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}

	for slot, leg := range map[string]*domain.Order{"a": exec.LegA, "b": exec.LegB} {
		if leg == nil {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, slot, order_id, token_id, side, size, price, status, filled_size, remaining_size, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			exec.ID, slot, leg.ID, leg.TokenID, string(leg.Side),
			leg.Size, leg.Price, string(leg.Status),
			leg.FilledSize, leg.RemainingSize, leg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %s: %w", slot, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs attached.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	var exec domain.Execution
	var completedAt *time.Time
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, market_id, price_a, price_b, size, fill_status, pnl, notes, manual_review, started_at, completed_at
		FROM executions WHERE id = $1`,
		id,
	).Scan(&exec.ID, &exec.MarketID, &exec.PriceA, &exec.PriceB, &exec.Size,
		&status, &exec.PnL, &exec.Notes, &exec.ManualReview,
		&exec.StartedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	exec.FillStatus = domain.FillStatus(status)
	if completedAt != nil {
		exec.CompletedAt = *completedAt
	}

	if err := s.attachLegs(ctx, &exec); err != nil {
		return domain.Execution{}, err
	}
	return exec, nil
}

func (s *ExecutionStore) attachLegs(ctx context.Context, exec *domain.Execution) error {
	rows, err := s.pool.Query(ctx, `
		SELECT slot, order_id, token_id, side, size, price, status, filled_size, remaining_size, created_at
		FROM execution_legs WHERE execution_id = $1 ORDER BY slot`,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: get execution legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.Order
		var slot, side, status string
		if err := rows.Scan(&slot, &leg.ID, &leg.TokenID, &side, &leg.Size, &leg.Price, &status, &leg.FilledSize, &leg.RemainingSize, &leg.CreatedAt); err != nil {
			return fmt.Errorf("postgres: scan execution leg: %w", err)
		}
		leg.Side = domain.Side(side)
		leg.Status = domain.OrderStatus(status)
		switch slot {
		case "a":
			exec.LegA = &leg
		case "b":
			exec.LegB = &leg
		}
	}
	return rows.Err()
}

// ListRecent returns the most recent executions, newest first, without legs.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, price_a, price_b, size, fill_status, pnl, notes, manual_review, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return scanExecutions(rows)
}

// ListBefore returns executions started before the given time, oldest first.
// Used by the archiver to page cold records out to object storage.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, price_a, price_b, size, fill_status, pnl, notes, manual_review, started_at, completed_at
		FROM executions WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanExecutions(rows)
}

// DeleteBefore removes executions started before the given time and returns
// the number deleted. Legs go with them via the FK cascade.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SumPnL returns the total pnl of executions started since the given time.
func (s *ExecutionStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM executions WHERE started_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum execution pnl: %w", err)
	}
	return sum, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	defer rows.Close()
	var list []domain.Execution
	for rows.Next() {
		var exec domain.Execution
		var completedAt *time.Time
		var status string
		if err := rows.Scan(&exec.ID, &exec.MarketID, &exec.PriceA, &exec.PriceB, &exec.Size,
			&status, &exec.PnL, &exec.Notes, &exec.ManualReview,
			&exec.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		exec.FillStatus = domain.FillStatus(status)
		if completedAt != nil {
			exec.CompletedAt = *completedAt
		}
		list = append(list, exec)
	}
	return list, rows.Err()
}
