// Package postgres provides a PostgreSQL implementation of aiquota.Storage and
// billing.Store. Consumption is a guarded UPDATE inside one transaction, so
// concurrent server instances cannot overshoot a limit.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ aiquota.Storage = (*Storage)(nil)
	_ billing.Store   = (*Storage)(nil)
)

// Storage implements aiquota.Storage and billing.Store on a pgx pool
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies embedded migrations in New
	AutoMigrate bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}

	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Migrate applies the embedded goose migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Storage) Close() {
	s.pool.Close()
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetUsage implements aiquota.Storage
func (s *Storage) GetUsage(ctx context.Context, userID, windowKey string) (*aiquota.Usage, error) {
	var usage aiquota.Usage
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, window_key, chat_used, suggestion_used, updated_at
			FROM ai_usage WHERE user_id = $1 AND window_key = $2`,
		userID, windowKey).Scan(
		&usage.UserID,
		&usage.WindowKey,
		&usage.ChatUsed,
		&usage.SuggestionUsed,
		&usage.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &usage, nil
}

// ConsumeUsage implements aiquota.Storage. The row is ensured, then one guarded
// UPDATE increments the counter only while it is below the limit.
func (s *Storage) ConsumeUsage(ctx context.Context, req *aiquota.ConsumeRequest) (*aiquota.ConsumeOutcome, error) {
	column, err := usedColumn(req.Kind)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO ai_usage (user_id, window_key, chat_used, suggestion_used, updated_at)
			VALUES ($1, $2, 0, 0, NOW())
			ON CONFLICT (user_id, window_key) DO NOTHING`,
		req.UserID, req.WindowKey)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure usage row exists: %w", err)
	}

	outcome := &aiquota.ConsumeOutcome{}
	//nolint:gosec // column comes from a fixed set
	err = tx.QueryRow(ctx,
		`UPDATE ai_usage
			SET `+column+` = `+column+` + 1, updated_at = NOW()
			WHERE user_id = $1 AND window_key = $2 AND ($3 < 0 OR `+column+` < $3)
			RETURNING user_id, window_key, chat_used, suggestion_used, updated_at`,
		req.UserID, req.WindowKey, req.Limit).Scan(
		&outcome.Usage.UserID,
		&outcome.Usage.WindowKey,
		&outcome.Usage.ChatUsed,
		&outcome.Usage.SuggestionUsed,
		&outcome.Usage.UpdatedAt,
	)
	switch {
	case err == nil:
		outcome.Allowed = true
	case errors.Is(err, pgx.ErrNoRows):
		// Limit reached: report the unchanged counters.
		err = tx.QueryRow(ctx,
			`SELECT user_id, window_key, chat_used, suggestion_used, updated_at
				FROM ai_usage WHERE user_id = $1 AND window_key = $2`,
			req.UserID, req.WindowKey).Scan(
			&outcome.Usage.UserID,
			&outcome.Usage.WindowKey,
			&outcome.Usage.ChatUsed,
			&outcome.Usage.SuggestionUsed,
			&outcome.Usage.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read usage: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to update usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return outcome, nil
}

// GetCustomerByUser implements billing.Store
func (s *Storage) GetCustomerByUser(ctx context.Context, userID string) (*billing.Customer, error) {
	return s.getCustomer(ctx, "user_id", userID)
}

// GetCustomerByID implements billing.Store
func (s *Storage) GetCustomerByID(ctx context.Context, customerID string) (*billing.Customer, error) {
	return s.getCustomer(ctx, "stripe_customer_id", customerID)
}

func (s *Storage) getCustomer(ctx context.Context, column, value string) (*billing.Customer, error) {
	var c billing.Customer
	//nolint:gosec // column comes from a fixed set
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, stripe_customer_id, updated_at FROM billing_customers WHERE `+column+` = $1`,
		value).Scan(&c.UserID, &c.CustomerID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", billing.ErrCustomerNotFound, column, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing customer: %w", err)
	}
	return &c, nil
}

// UpsertCustomer implements billing.Store
func (s *Storage) UpsertCustomer(ctx context.Context, customer *billing.Customer) error {
	if customer == nil || customer.UserID == "" || customer.CustomerID == "" {
		return fmt.Errorf("invalid billing customer")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_customers (user_id, stripe_customer_id, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				updated_at = EXCLUDED.updated_at`,
		customer.UserID, customer.CustomerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert billing customer: %w", err)
	}
	return nil
}

// UpsertSubscription implements billing.Store
func (s *Storage) UpsertSubscription(ctx context.Context, row *billing.SubscriptionRow) error {
	if row == nil || row.ID == "" {
		return fmt.Errorf("invalid subscription row")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_subscriptions
				(id, user_id, stripe_customer_id, status, price_id, tier, cancel_at_period_end, current_period_end, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				status = EXCLUDED.status,
				price_id = EXCLUDED.price_id,
				tier = EXCLUDED.tier,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				current_period_end = EXCLUDED.current_period_end,
				updated_at = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.CustomerID, row.Status, row.PriceID, string(row.Tier),
		row.CancelAtPeriodEnd, row.CurrentPeriodEnd, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions implements billing.Store
func (s *Storage) ListSubscriptions(ctx context.Context, userID string) ([]billing.SubscriptionRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, stripe_customer_id, status, price_id, tier,
				cancel_at_period_end, current_period_end, updated_at
			FROM user_subscriptions WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var result []billing.SubscriptionRow
	for rows.Next() {
		var (
			row  billing.SubscriptionRow
			tier string
		)
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.CustomerID, &row.Status, &row.PriceID, &tier,
			&row.CancelAtPeriodEnd, &row.CurrentPeriodEnd, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		row.Tier = aiquota.ParseTier(tier)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return result, nil
}

// CancelCustomerSubscriptions implements billing.Store
func (s *Storage) CancelCustomerSubscriptions(ctx context.Context, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_subscriptions SET status = $1, tier = $2, updated_at = NOW()
			WHERE stripe_customer_id = $3`,
		billing.StatusCanceled, string(aiquota.TierFree), customerID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscriptions: %w", err)
	}
	return nil
}

// GetUserTier implements billing.Store
func (s *Storage) GetUserTier(ctx context.Context, userID string) (aiquota.Tier, error) {
	var tier string
	err := s.pool.QueryRow(ctx,
		`SELECT tier FROM user_entitlements WHERE user_id = $1`, userID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return aiquota.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user tier: %w", err)
	}
	return aiquota.ParseTier(tier), nil
}

// SetUserTier implements billing.Store
func (s *Storage) SetUserTier(ctx context.Context, userID string, tier aiquota.Tier) error {
	if userID == "" {
		return aiquota.ErrInvalidUserID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_entitlements (user_id, tier, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				updated_at = EXCLUDED.updated_at`,
		userID, string(tier))
	if err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	return nil
}

func usedColumn(kind aiquota.UsageKind) (string, error) {
	switch kind {
	case aiquota.KindChat:
		return "chat_used", nil
	case aiquota.KindSuggestion:
		return "suggestion_used", nil
	default:
		return "", aiquota.ErrInvalidKind
	}
}
