package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects the SQL flavor spoken by SQLStore.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

const mysqlDuplicateEntry = 1062

// SQLStore is a Store over database/sql for SQLite and MySQL.
// Timestamps are stored as integer microseconds since the Unix epoch so ordering is numeric
// in both engines.
//
// Unlike PostgresStore, SQLStore owns its *sql.DB and closes it in Close.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// OpenSQLStore opens and pings a database for the given dialect.
// For SQLite the pool is limited to one connection; writes are serialized by the engine anyway.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectMySQL:
		driver = "mysql"
	default:
		return nil, fmt.Errorf("chat: unsupported sql dialect %q", dialect)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("chat: empty dsn")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, persistErr("sql open", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	st := &SQLStore{db: db, dialect: dialect, table: defaultTable}
	if err := st.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return persistErr(string(s.dialect)+" ping", s.db.PingContext(ctx))
}

// Migrate creates the messages table and index if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	idType := "TEXT"
	if s.dialect == DialectMySQL {
		// MySQL cannot index unbounded TEXT columns.
		idType = "VARCHAR(191)"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		   message_id   ` + idType + ` NOT NULL PRIMARY KEY,
		   sender       ` + idType + ` NOT NULL DEFAULT '',
		   wa_id        ` + idType + ` NOT NULL,
		   contact_name VARCHAR(255) NOT NULL DEFAULT '',
		   body         TEXT NOT NULL,
		   msg_type     VARCHAR(32) NOT NULL DEFAULT 'text',
		   ts_micros    BIGINT NOT NULL,
		   status       VARCHAR(32) NOT NULL DEFAULT 'sent'
		 )`,
	}
	if s.dialect == DialectSQLite {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS `+s.table+`_wa_id_ts_idx ON `+s.table+` (wa_id, ts_micros, message_id)`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return persistErr(string(s.dialect)+" migrate", err)
		}
	}

	if s.dialect == DialectMySQL {
		// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate key name (1061) means it exists.
		_, err := s.db.ExecContext(ctx, `CREATE INDEX `+s.table+`_wa_id_ts_idx ON `+s.table+` (wa_id, ts_micros, message_id)`)
		var myErr *mysql.MySQLError
		if err != nil && !(errors.As(err, &myErr) && myErr.Number == 1061) {
			return persistErr("mysql migrate", err)
		}
	}
	return nil
}

// InsertIfAbsent inserts m unless its message_id exists.
func (s *SQLStore) InsertIfAbsent(ctx context.Context, m Message) (bool, error) {
	if err := validateMessage(m); err != nil {
		return false, err
	}

	q := `INSERT INTO ` + s.table + ` (message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status)
	      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	switch s.dialect {
	case DialectSQLite:
		q += ` ON CONFLICT (message_id) DO NOTHING`
	case DialectMySQL:
		// Without CLIENT_FOUND_ROWS an unchanged row reports 0 affected rows.
		q += ` ON DUPLICATE KEY UPDATE message_id = message_id`
	}

	res, err := s.db.ExecContext(ctx, q, insertArgs(m)...)
	if err != nil {
		return false, persistErr(string(s.dialect)+" insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr(string(s.dialect)+" insert", err)
	}
	return n == 1, nil
}

// Insert inserts m; a primary key collision yields ErrDuplicate.
func (s *SQLStore) Insert(ctx context.Context, m Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(m)...,
	)
	if err != nil {
		if s.isDuplicate(err) {
			return ErrDuplicate
		}
		return persistErr(string(s.dialect)+" insert", err)
	}
	return nil
}

// UpdateStatus sets status and ts for messageID.
func (s *SQLStore) UpdateStatus(ctx context.Context, messageID string, status Status, ts time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table+` SET status = ?, ts_micros = ? WHERE message_id = ?`,
		string(status), ts.UnixMicro(), messageID,
	)
	if err != nil {
		return false, persistErr(string(s.dialect)+" update status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr(string(s.dialect)+" update status", err)
	}
	// MySQL reports 0 when the new values equal the old ones; confirm the row exists.
	if n == 0 && s.dialect == DialectMySQL {
		return s.exists(ctx, messageID)
	}
	return n > 0, nil
}

// FindByChat returns all messages of waID ordered by ts ASC.
func (s *SQLStore) FindByChat(ctx context.Context, waID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status
		   FROM `+s.table+`
		  WHERE wa_id = ?
		  ORDER BY ts_micros ASC, message_id ASC`,
		waID,
	)
	if err != nil {
		return nil, persistErr(string(s.dialect)+" find", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanSQLMessage(rows)
		if err != nil {
			return nil, persistErr(string(s.dialect)+" find", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(string(s.dialect)+" find", err)
	}
	return out, nil
}

// ListConversations returns the most recent message per wa_id.
func (s *SQLStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status
		   FROM (
		     SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status,
		            ROW_NUMBER() OVER (PARTITION BY wa_id ORDER BY ts_micros DESC, message_id DESC) AS rn
		       FROM `+s.table+`
		   ) ranked
		  WHERE rn = 1
		  ORDER BY ts_micros DESC, wa_id ASC`,
	)
	if err != nil {
		return nil, persistErr(string(s.dialect)+" conversations", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		m, err := scanSQLMessage(rows)
		if err != nil {
			return nil, persistErr(string(s.dialect)+" conversations", err)
		}
		out = append(out, Conversation{WaID: m.WaID, Name: m.Name, Last: m})
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(string(s.dialect)+" conversations", err)
	}
	return out, nil
}

// LatestInChat returns the most recent message of waID or ErrNotFound.
func (s *SQLStore) LatestInChat(ctx context.Context, waID string) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, sender, wa_id, contact_name, body, msg_type, ts_micros, status
		   FROM `+s.table+`
		  WHERE wa_id = ?
		  ORDER BY ts_micros DESC, message_id DESC
		  LIMIT 1`,
		waID,
	)
	m, err := scanSQLMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, persistErr(string(s.dialect)+" latest", err)
	}
	return m, nil
}

// MarkAllRead moves every sent message of waID to read.
func (s *SQLStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table+` SET status = ? WHERE wa_id = ? AND status = ?`,
		string(StatusRead), waID, string(StatusSent),
	)
	if err != nil {
		return 0, persistErr(string(s.dialect)+" mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr(string(s.dialect)+" mark read", err)
	}
	return n, nil
}

func (s *SQLStore) exists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+s.table+` WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr(string(s.dialect)+" exists", err)
	}
	return true, nil
}

func (s *SQLStore) isDuplicate(err error) bool {
	switch s.dialect {
	case DialectMySQL:
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
	default:
		var liteErr *sqlite.Error
		if !errors.As(err, &liteErr) {
			return false
		}
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return false
	}
}

func insertArgs(m Message) []any {
	return []any{m.MessageID, m.From, m.WaID, m.Name, m.Text, m.Type, m.Timestamp.UnixMicro(), string(m.Status)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLMessage(row rowScanner) (Message, error) {
	var (
		m      Message
		micros int64
		status string
	)
	if err := row.Scan(&m.MessageID, &m.From, &m.WaID, &m.Name, &m.Text, &m.Type, &micros, &status); err != nil {
		return Message{}, err
	}
	m.Timestamp = time.UnixMicro(micros).UTC()
	m.Status = Status(status)
	return m, nil
}
