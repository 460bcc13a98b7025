package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/video-relay-bot/pkg/entities"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", filePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

// MarkSeen records the user and reports whether this was the first time.
// The insert is atomic, so concurrent first messages from the same user
// produce exactly one true.
func (c *SQLite) MarkSeen(ctx context.Context, userID int64) (bool, error) {
	result, err := c.db.ExecContext(
		ctx,
		`INSERT INTO users (user_id, created_at) VALUES (?, CURRENT_TIMESTAMP)
			ON CONFLICT(user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting user: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return n == 1, nil
}

func (c *SQLite) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// ImportUsers reads a legacy {"<user id>": true, ...} document and records
// every user marked true. It returns the number of users that were new.
func (c *SQLite) ImportUsers(ctx context.Context, r io.Reader) (int, error) {
	var legacy map[string]bool
	if err := json.NewDecoder(r).Decode(&legacy); err != nil {
		return 0, fmt.Errorf("decoding users file: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO users (user_id, created_at) VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	imported := 0
	for key, seen := range legacy {
		if !seen {
			continue
		}

		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing user id %q: %w", key, err)
		}

		result, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("inserting user %d: %w", id, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("getting rows affected: %w", err)
		}
		imported += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}

	return imported, nil
}

func (c *SQLite) SaveRequest(ctx context.Context, msg e.Message, url string) (int64, error) {
	result, err := c.db.ExecContext(
		ctx,
		`INSERT INTO requests (
			chat_id, user_id, message_id, url, stage, error, created_at
		) VALUES (
			?, ?, ?, ?, NULL, NULL, CURRENT_TIMESTAMP
		)`,
		msg.Chat.ID, msg.Sender.ID, msg.ID, url,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	return id, nil
}

// SaveOutcome stores the stage a request ended at and the error text, if any.
func (c *SQLite) SaveOutcome(ctx context.Context, requestID int64, stage e.Stage, errText string) error {
	var errValue any
	if errText != "" {
		errValue = errText
	}

	_, err := c.db.ExecContext(
		ctx,
		`UPDATE requests SET stage = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(stage),
		errValue,
		requestID,
	)
	return err
}

// Request is a stored link request.
type Request struct {
	ID     int64
	ChatID int64
	UserID int64
	URL    string
	Stage  *string
	Error  *string
}

func (c *SQLite) ListRequests(ctx context.Context, userID int64) ([]Request, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT id, chat_id, user_id, url, stage, error FROM requests WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.ChatID, &r.UserID, &r.URL, &r.Stage, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
