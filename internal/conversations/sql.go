package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Backend names accepted by NewSQLRepository.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// SQLRepository keeps each conversation as one row with its messages in a
// JSON column.
type SQLRepository struct {
	db      *sql.DB
	backend string
	now     func() time.Time
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository opens dsn with the driver for backend and creates the
// schema if needed. For sqlite an empty dsn means an in-memory database.
func NewSQLRepository(ctx context.Context, backend, dsn string) (*SQLRepository, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite"
		if dsn == "" {
			dsn = ":memory:"
		}
	case BackendPostgres:
		// host=localhost port=5432 user=postgres dbname=voice, or a postgres:// URL
		driver = "pgx"
	case BackendMySQL:
		// user:password@tcp(host:port)/dbname
		driver = "mysql"
	default:
		return nil, errors.Newf("conversations: unsupported backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "conversations: open %s", backend)
	}
	if backend == BackendSQLite {
		// one connection avoids "database is locked" and keeps :memory: a single database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "conversations: connect to %s", backend)
	}

	for _, stmt := range schemaFor(backend) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "conversations: create schema")
		}
	}

	return &SQLRepository{db: db, backend: backend, now: time.Now}, nil
}

func schemaFor(backend string) []string {
	switch backend {
	case BackendMySQL:
		return []string{`
			CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(36) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL,
				messages LONGTEXT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				INDEX idx_conversations_user (user_id, updated_at)
			)`,
		}
	case BackendPostgres:
		return []string{`
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL,
				messages TEXT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at)`,
		}
	default:
		return []string{`
			CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL,
				messages TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at)`,
		}
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) List(ctx context.Context, userID string, limit int) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, title, messages, updated_at FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`), userID, ClampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "conversations: list")
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			s       Summary
			raw     string
			updated int64
		)
		if err := rows.Scan(&s.ID, &s.Title, &raw, &updated); err != nil {
			return nil, errors.Wrap(err, "conversations: scan")
		}
		msgs, err := decodeMessages(raw)
		if err != nil {
			return nil, err
		}
		s.MessageCount = len(msgs)
		s.UpdatedAt = fromNanos(updated)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "conversations: list")
	}
	return out, nil
}

func (r *SQLRepository) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	return r.get(ctx, r.db, userID, id, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepository) get(ctx context.Context, q queryer, userID, id string, forUpdate bool) (*Conversation, error) {
	query := `SELECT id, user_id, title, messages, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`
	if forUpdate && r.backend != BackendSQLite {
		query += ` FOR UPDATE`
	}

	var (
		c                Conversation
		raw              string
		created, updated int64
	)
	err := q.QueryRowContext(ctx, r.rebind(query), id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversations: get")
	}

	if c.Messages, err = decodeMessages(raw); err != nil {
		return nil, err
	}
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

// Create assigns a new ID and timestamps; any ID on c is ignored.
func (r *SQLRepository) Create(ctx context.Context, c Conversation) (*Conversation, error) {
	if err := validateNew(c); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Title == "" {
		c.Title = "Untitled"
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	for i := range c.Messages {
		if c.Messages[i].CreatedAt.IsZero() {
			c.Messages[i].CreatedAt = now
		}
	}

	raw, err := json.Marshal(c.Messages)
	if err != nil {
		return nil, errors.Wrap(err, "conversations: encode messages")
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO conversations (id, user_id, title, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.UserID, c.Title, string(raw), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "conversations: insert")
	}
	return &c, nil
}

func (r *SQLRepository) AppendMessage(ctx context.Context, userID, id string, m Message) (*Conversation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "conversations: begin")
	}
	defer func() { _ = tx.Rollback() }()

	c, err := r.get(ctx, tx, userID, id, true)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = now

	raw, err := json.Marshal(c.Messages)
	if err != nil {
		return nil, errors.Wrap(err, "conversations: encode messages")
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE conversations SET messages = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`),
		string(raw), now.UnixNano(), id, userID); err != nil {
		return nil, errors.Wrap(err, "conversations: update")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "conversations: commit")
	}
	return c, nil
}

func (r *SQLRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM conversations WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return errors.Wrap(err, "conversations: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "conversations: delete")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func decodeMessages(raw string) ([]Message, error) {
	msgs := []Message{}
	if raw == "" {
		return msgs, nil
	}
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, errors.Wrap(err, "conversations: decode messages")
	}
	return msgs, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
