package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgwabridge/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tg_user_messages (
	user_number TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE tg_user_messages ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT now();
DELETE FROM tg_user_messages a USING tg_user_messages b
	WHERE a.user_number = b.user_number AND a.ctid < b.ctid;
CREATE UNIQUE INDEX IF NOT EXISTS tg_user_messages_user_number_key ON tg_user_messages (user_number);
`

// PostgresStore keeps correlation records in PostgreSQL. Tables left by
// earlier deployments had no key on user_number; opening the store keeps the
// newest row per user and adds the unique index upserts rely on.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	logger.Info("postgres correlation store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, userID string) (string, bool, error) {
	var messageID string
	err := s.pool.QueryRow(ctx,
		`SELECT message_id FROM tg_user_messages WHERE user_number = $1`, userID,
	).Scan(&messageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewError(domain.KindStoreUnavailable, "postgres lookup", err)
	}
	return messageID, true, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, userID, messageID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tg_user_messages (user_number, message_id, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_number) DO UPDATE SET message_id = EXCLUDED.message_id, updated_at = EXCLUDED.updated_at`,
		userID, messageID,
	)
	if err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "postgres upsert", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tg_user_messages`).Scan(&n); err != nil {
		return 0, domain.NewError(domain.KindStoreUnavailable, "postgres count", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "postgres ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
