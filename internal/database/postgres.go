package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-chat/internal/models"
	"social-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	conversation TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	reply_to     TEXT NOT NULL DEFAULT '',
	reactions    JSONB NOT NULL DEFAULT '{}'::jsonb,
	edited       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_conversation_created_at_idx
	ON messages (conversation, created_at DESC);
`

const messageColumns = `id, sender_id, recipient_id, content, message_type, reply_to, reactions, edited, created_at, updated_at`

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, username, email, created_at`

	created := &models.User{PasswordHash: user.PasswordHash}
	err := db.pool.QueryRow(ctx, query, uuid.NewString(), user.Username, strings.ToLower(user.Email), user.PasswordHash).Scan(
		&created.ID, &created.Username, &created.Email, &created.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, username, email, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) UserExists(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, id).Scan(&exists)
	return exists, err
}

// Message Repository Implementation
func (db *PostgresDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := prepareForAppend(msg)

	query := `
		INSERT INTO messages (id, conversation, sender_id, recipient_id, content, message_type, reply_to, reactions, edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}'::jsonb, FALSE, $8, $8)`
	_, err := db.pool.Exec(ctx, query,
		stored.ID, conversationOf(stored), stored.SenderID, stored.RecipientID,
		stored.Content, stored.Type, stored.ReplyTo, stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return stored, nil
}

func (db *PostgresDB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) ListConversation(ctx context.Context, q ConversationQuery) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation = $1 AND created_at > $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, q.Key(), q.Since, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

func (db *PostgresDB) SetReaction(ctx context.Context, messageID, userID, emoji string) (map[string]string, error) {
	query := `
		UPDATE messages
		SET reactions = jsonb_set(reactions, ARRAY[$2::text], to_jsonb($3::text)), updated_at = NOW()
		WHERE id = $1
		RETURNING reactions`

	var reactions map[string]string
	err := db.pool.QueryRow(ctx, query, messageID, userID, emoji).Scan(&reactions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

func (db *PostgresDB) EditMessage(ctx context.Context, messageID, ownerID, content string) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := checkOwner(ctx, tx, messageID, ownerID); err != nil {
		return nil, err
	}

	query := `
		UPDATE messages SET content = $2, edited = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	msg, err := scanMessage(tx.QueryRow(ctx, query, messageID, content))
	if err != nil {
		return nil, err
	}

	return msg, tx.Commit(ctx)
}

func (db *PostgresDB) DeleteMessage(ctx context.Context, messageID, ownerID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := checkOwner(ctx, tx, messageID, ownerID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE id = $1", messageID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func checkOwner(ctx context.Context, tx pgx.Tx, messageID, ownerID string) error {
	var senderID string
	err := tx.QueryRow(ctx, "SELECT sender_id FROM messages WHERE id = $1 FOR UPDATE", messageID).Scan(&senderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if senderID != ownerID {
		return ErrNotMessageOwner
	}
	return nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.Type,
		&msg.ReplyTo, &msg.Reactions, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// prepareForAppend returns the record as it will be stored: an ID, a type
// and UTC timestamps are filled in when the caller left them empty.
// Timestamps are cut to microseconds, the precision of TIMESTAMPTZ, so the
// returned record matches what a later read gives back.
func prepareForAppend(msg *models.Message) *models.Message {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Type == "" {
		stored.Type = models.MessageTypeText
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Microsecond)
	stored.UpdatedAt = stored.CreatedAt
	stored.Reactions = nil
	stored.Edited = false
	return &stored
}

// Reverse to show oldest first
func reverse(messages []*models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
