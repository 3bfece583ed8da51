package chat

import (
	"context"
	_ "embed"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

const pgUniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - InsertIfAbsent relies on the message_id primary key with ON CONFLICT DO NOTHING,
//     so racing redeliveries resolve to one insert without explicit locking.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithTable sets the messages table name (default: "processed_messages").
func WithTable(table string) PostgresOption {
	return func(s *PostgresStore) error {
		table = strings.TrimSpace(table)
		if !isValidIdent(table) {
			return errors.New("chat: invalid table identifier")
		}
		s.table = table
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
		table:  defaultTable,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return persistErr("postgres ping", s.pool.Ping(ctx))
}

// Migrate creates the schema, table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := strings.NewReplacer(
		"{{schema}}", pgx.Identifier{s.schema}.Sanitize(),
		"{{table}}", s.ident(),
		"{{index}}", pgx.Identifier{s.table + "_wa_id_ts_idx"}.Sanitize(),
	).Replace(postgresSchemaSQL)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return persistErr("postgres migrate", err)
	}
	return nil
}

// InsertIfAbsent inserts m unless a row with the same message_id exists.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, m Message) (bool, error) {
	if err := validateMessage(m); err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident()+` (message_id, sender, wa_id, contact_name, body, msg_type, ts, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (message_id) DO NOTHING`,
		m.MessageID, m.From, m.WaID, m.Name, m.Text, m.Type, m.Timestamp.UTC(), string(m.Status),
	)
	if err != nil {
		return false, persistErr("postgres insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Insert inserts m; a primary key collision yields ErrDuplicate.
func (s *PostgresStore) Insert(ctx context.Context, m Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident()+` (message_id, sender, wa_id, contact_name, body, msg_type, ts, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.MessageID, m.From, m.WaID, m.Name, m.Text, m.Type, m.Timestamp.UTC(), string(m.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return persistErr("postgres insert", err)
	}
	return nil
}

// UpdateStatus sets status and ts for messageID. matched is false when no row has that id.
func (s *PostgresStore) UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+` SET status = $2, ts = $3 WHERE message_id = $1`,
		messageID, string(status), ts.UTC(),
	)
	if err != nil {
		return false, persistErr("postgres update status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByChat returns all messages of waID ordered by ts ASC.
func (s *PostgresStore) FindByChat(ctx context.Context, waID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts, status
		   FROM `+s.ident()+`
		  WHERE wa_id = $1
		  ORDER BY ts ASC, message_id ASC`,
		waID,
	)
	if err != nil {
		return nil, persistErr("postgres find", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanPGMessage(rows)
		if err != nil {
			return nil, persistErr("postgres find", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("postgres find", err)
	}
	return out, nil
}

// ListConversations returns the most recent message per wa_id.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts, status
		   FROM (
		     SELECT DISTINCT ON (wa_id) message_id, sender, wa_id, contact_name, body, msg_type, ts, status
		       FROM `+s.ident()+`
		      ORDER BY wa_id, ts DESC, message_id DESC
		   ) latest
		  ORDER BY ts DESC, wa_id ASC`,
	)
	if err != nil {
		return nil, persistErr("postgres conversations", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		m, err := scanPGMessage(rows)
		if err != nil {
			return nil, persistErr("postgres conversations", err)
		}
		out = append(out, Conversation{WaID: m.WaID, Name: m.Name, Last: m})
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("postgres conversations", err)
	}
	return out, nil
}

// LatestInChat returns the most recent message of waID or ErrNotFound.
func (s *PostgresStore) LatestInChat(ctx context.Context, waID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts, status
		   FROM `+s.ident()+`
		  WHERE wa_id = $1
		  ORDER BY ts DESC, message_id DESC
		  LIMIT 1`,
		waID,
	)
	m, err := scanPGMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, persistErr("postgres latest", err)
	}
	return m, nil
}

// MarkAllRead moves every sent message of waID to read.
func (s *PostgresStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+` SET status = $2 WHERE wa_id = $1 AND status = $3`,
		waID, string(StatusRead), string(StatusSent),
	)
	if err != nil {
		return 0, persistErr("postgres mark read", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ident() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, s.table}.Sanitize()
}

func scanPGMessage(row pgx.Row) (Message, error) {
	var (
		m      Message
		status string
	)
	if err := row.Scan(&m.MessageID, &m.From, &m.WaID, &m.Name, &m.Text, &m.Type, &m.Timestamp, &status); err != nil {
		return Message{}, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.Status = Status(status)
	return m, nil
}

const defaultTable = "processed_messages"

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidIdent(s string) bool {
	return identRE.MatchString(s)
}
