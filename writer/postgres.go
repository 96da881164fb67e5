package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/models"
)

const (
	createAnalysisTableSQL = `CREATE TABLE IF NOT EXISTS market_analysis (
        id           BIGSERIAL PRIMARY KEY,
        symbol       TEXT             NOT NULL,
        timestamp    BIGINT           NOT NULL,
        total_orders BIGINT           NOT NULL,
        human_orders BIGINT           NOT NULL,
        bot_orders   BIGINT           NOT NULL,
        human_ratio  DOUBLE PRECISION NOT NULL
    );`

	createAnalysisIndexSQL = `CREATE INDEX IF NOT EXISTS market_analysis_symbol_ts_idx
        ON market_analysis (symbol, timestamp DESC);`

	insertAnalysisSQL = `INSERT INTO market_analysis (
        symbol,
        timestamp,
        total_orders,
        human_orders,
        bot_orders,
        human_ratio
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listAnalysisHistorySQL = `SELECT
        id,
        symbol,
        timestamp,
        total_orders,
        human_orders,
        bot_orders,
        human_ratio
    FROM market_analysis
    WHERE symbol = $1
    ORDER BY timestamp DESC, id DESC
    LIMIT $2;`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore persists analysis records in the market_analysis table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Log
}

// OpenPostgres connects, verifies the connection and creates the schema.
// Any failure here means the process cannot store results and must not start.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	store.log.WithComponent("postgres_store").WithFields(logger.Fields{
		"max_conns": pool.Config().MaxConns,
	}).Info("postgres store ready")
	return store, nil
}

// NewPostgresStore wires an existing pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, log: logger.GetLogger()}
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the table and its (symbol, timestamp) index.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createAnalysisTableSQL); err != nil {
		return fmt.Errorf("create market_analysis: %w", err)
	}
	if _, err := pool.Exec(ctx, createAnalysisIndexSQL); err != nil {
		return fmt.Errorf("create market_analysis index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.AnalysisRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertAnalysisSQL,
		rec.Symbol,
		rec.Timestamp,
		rec.TotalOrders,
		rec.HumanOrders,
		rec.BotOrders,
		rec.HumanRatio,
	)
	if execErr != nil {
		return fmt.Errorf("insert analysis record: %w", execErr)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, symbol string) (models.AnalysisRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return models.AnalysisRecord{}, false, err
	}
	rec, scanErr := scanAnalysisRecord(pool.QueryRow(ctx, listAnalysisHistorySQL, symbol, 1))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return models.AnalysisRecord{}, false, nil
	}
	if scanErr != nil {
		return models.AnalysisRecord{}, false, fmt.Errorf("latest analysis record: %w", scanErr)
	}
	return rec, true, nil
}

func (s *PostgresStore) History(ctx context.Context, symbol string, limit int) ([]models.AnalysisRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, queryErr := pool.Query(ctx, listAnalysisHistorySQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list analysis history: %w", queryErr)
	}
	defer rows.Close()

	records := make([]models.AnalysisRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAnalysisRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanAnalysisRecord(row pgx.Row) (models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Timestamp,
		&rec.TotalOrders,
		&rec.HumanOrders,
		&rec.BotOrders,
		&rec.HumanRatio,
	)
	return rec, err
}
