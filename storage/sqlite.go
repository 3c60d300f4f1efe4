package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"dbxauth/core"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

const queryTimeout = 5 * time.Second

// SQLiteStorage is a file-backed core.SecureStorage. Values are sealed with
// the crypto service when one is provided.
type SQLiteStorage struct {
	db     *sql.DB
	crypto *core.CryptoService
	logger zerolog.Logger
}

func NewSQLiteStorage(dbPath string, crypto *core.CryptoService, logger zerolog.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db, crypto: crypto, logger: logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

func (s *SQLiteStorage) Set(key string, value []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if s.crypto != nil {
		sealed, err := s.crypto.Seal(value)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to seal secure item")
			return false
		}
		value = sealed
	}

	query := `
		INSERT INTO secure_items (item_key, item_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			item_value = excluded.item_value,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		s.logger.Error().Err(err).Msg("failed to write secure item")
		return false
	}
	return true
}

func (s *SQLiteStorage) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := `
		SELECT item_value
		FROM secure_items
		WHERE item_key = ?
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read secure item")
		return nil, false
	}

	if s.crypto != nil {
		opened, err := s.crypto.Open(value)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to open secure item")
			return nil, false
		}
		value = opened
	}
	return value, true
}

func (s *SQLiteStorage) Keys() []string {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT item_key FROM secure_items ORDER BY item_key`)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list secure items")
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.logger.Error().Err(err).Msg("failed to scan secure item key")
			return nil
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("failed to list secure items")
		return nil
	}
	return keys
}

func (s *SQLiteStorage) Delete(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM secure_items WHERE item_key = ?`, key)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to delete secure item")
		return false
	}

	rows, err := result.RowsAffected()
	return err == nil && rows > 0
}

func (s *SQLiteStorage) DeleteAll() bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM secure_items`); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete secure items")
		return false
	}
	return true
}
