package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; this also keeps
	// :memory: databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// CreateMessage persists a new message and assigns its ID.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ID = uuid.NewString()

	query := `
		INSERT INTO messages (id, sender, recipient, body, created_at, is_delivered, is_read)
		VALUES (?, ?, ?, ?, ?, 0, 0)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.From, msg.To, msg.Body, msg.CreatedAt.UTC()); err != nil {
		msg.ID = ""
		return fmt.Errorf("insert message: %w", err)
	}
	msg.Delivered = false
	msg.Read = false
	msg.Reactions = nil
	return nil
}

// GetMessage retrieves a message with its reactions.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, is_delivered, is_read
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.From,
		&msg.To,
		&msg.Body,
		&msg.CreatedAt,
		&msg.Delivered,
		&msg.Read,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	reactions, err := s.listReactions(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions

	return &msg, nil
}

// UpdateMessage raises delivery flags and appends reactions atomically.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, update store.MessageUpdate) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	delivered := update.MarkDelivered || update.MarkRead
	query := `
		UPDATE messages
		SET is_delivered = CASE WHEN ? THEN 1 ELSE is_delivered END,
		    is_read      = CASE WHEN ? THEN 1 ELSE is_read END
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query, delivered, update.MarkRead, id)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}

	if r := update.AddReaction; r != nil {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, emoji, by_identity, created_at)
			VALUES (?, ?, ?, ?)
		`, id, r.Emoji, r.By, createdAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("insert reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message and its reactions.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}

	return tx.Commit()
}

// ListConversation returns messages between a and b, newest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b string, limit int, beforeID string) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if beforeID != "" {
		query := `
			SELECT id, sender, recipient, body, created_at, is_delivered, is_read
			FROM messages
			WHERE ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
			  AND seq < (SELECT seq FROM messages WHERE id = ?)
			ORDER BY seq DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, a, b, b, a, beforeID, limit)
	} else {
		query := `
			SELECT id, sender, recipient, body, created_at, is_delivered, is_read
			FROM messages
			WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
			ORDER BY seq DESC
			LIMIT ?
		`
		rows, err = s.db.QueryContext(ctx, query, a, b, b, a, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.From,
			&msg.To,
			&msg.Body,
			&msg.CreatedAt,
			&msg.Delivered,
			&msg.Read,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// Release the single connection before loading reactions.
	rows.Close()

	for _, msg := range messages {
		reactions, err := s.listReactions(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.Reactions = reactions
	}

	return messages, nil
}

func (s *SQLiteStore) listReactions(ctx context.Context, messageID string) ([]store.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT emoji, by_identity, created_at
		FROM message_reactions
		WHERE message_id = ?
		ORDER BY id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	var reactions []store.Reaction
	for rows.Next() {
		var r store.Reaction
		if err := rows.Scan(&r.Emoji, &r.By, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// ==== ProfileStore implementation ====

// CreateProfile creates a new profile.
func (s *SQLiteStore) CreateProfile(ctx context.Context, identity, displayName, passwordHash string) (*store.Profile, error) {
	query := `
		INSERT INTO profiles (identity, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, identity, displayName, passwordHash, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	return s.GetProfile(ctx, identity)
}

// GetProfile retrieves a profile by identity.
func (s *SQLiteStore) GetProfile(ctx context.Context, identity string) (*store.Profile, error) {
	query := `
		SELECT identity, display_name, password_hash, last_seen, created_at
		FROM profiles
		WHERE identity = ?
	`
	var (
		p        store.Profile
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, identity).Scan(
		&p.Identity,
		&p.DisplayName,
		&p.PasswordHash,
		&lastSeen,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", identity, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}

	if lastSeen.Valid {
		p.LastSeen = &lastSeen.Time
	}

	return &p, nil
}

// UpdateLastSeen records the last-seen time of a profile.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, identity string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_seen = ? WHERE identity = ?`, at.UTC(), identity)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile %s: %w", identity, store.ErrNotFound)
	}
	return nil
}
