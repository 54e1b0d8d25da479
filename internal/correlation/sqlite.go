package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tgwabridge/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps correlation records in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID string) (string, bool, error) {
	var messageID string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM tg_user_messages WHERE user_number = ?`, userID,
	).Scan(&messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewError(domain.KindStoreUnavailable, "sqlite lookup", err)
	}
	return messageID, true, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, userID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tg_user_messages (user_number, message_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_number) DO UPDATE SET message_id = excluded.message_id, updated_at = excluded.updated_at`,
		userID, messageID, time.Now().UTC(),
	)
	if err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "sqlite upsert", err)
	}
	return nil
}

// Records lists every record, most recently updated first.
func (s *SQLiteStore) Records(ctx context.Context) ([]domain.CorrelationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_number, message_id, updated_at FROM tg_user_messages ORDER BY updated_at DESC`)
	if err != nil {
		return nil, domain.NewError(domain.KindStoreUnavailable, "sqlite records", err)
	}
	defer rows.Close()

	var out []domain.CorrelationRecord
	for rows.Next() {
		var (
			r       domain.CorrelationRecord
			updated sql.NullTime
		)
		if err := rows.Scan(&r.UserID, &r.MessageID, &updated); err != nil {
			return nil, domain.NewError(domain.KindStoreUnavailable, "sqlite records", err)
		}
		r.UpdatedAt = updated.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStoreUnavailable, "sqlite records", err)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tg_user_messages`).Scan(&n); err != nil {
		return 0, domain.NewError(domain.KindStoreUnavailable, "sqlite count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.NewError(domain.KindStoreUnavailable, "sqlite ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
