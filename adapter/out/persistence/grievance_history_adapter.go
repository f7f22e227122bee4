package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var _ out.HistoryRepository = (*HistoryAdapter)(nil)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// HistoryAdapter stores grievance records in Postgres or SQLite.
type HistoryAdapter struct {
	db      *sqlx.DB
	dialect dialect
}

// NewPostgresHistoryAdapter uses an open sqlx handle on the pgx driver. The
// schema is expected to be migrated already.
func NewPostgresHistoryAdapter(db *sqlx.DB) *HistoryAdapter {
	return &HistoryAdapter{db: db, dialect: dialectPostgres}
}

// NewSQLiteHistoryAdapter opens (or creates) a SQLite database file and
// ensures the schema exists.
func NewSQLiteHistoryAdapter(dbPath string) (*HistoryAdapter, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &HistoryAdapter{db: db, dialect: dialectSQLite}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS grievance_emails (
	seq              INTEGER PRIMARY KEY,
	email_id         TEXT NOT NULL DEFAULT '',
	parent_email_id  TEXT NOT NULL DEFAULT '',
	sender           TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL DEFAULT '',
	email_date       TIMESTAMP,
	attachments      TEXT NOT NULL DEFAULT '[]',
	eml_file         TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL,
	mail_type        TEXT NOT NULL,
	followup_count   INTEGER NOT NULL DEFAULT 0,
	thread_parent_id TEXT NOT NULL DEFAULT '',
	thread_layer     TEXT NOT NULL DEFAULT '',
	similarity_score REAL NOT NULL DEFAULT 0,
	processed_at     TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_grievance_emails_email_id
	ON grievance_emails (email_id) WHERE email_id <> '';
CREATE INDEX IF NOT EXISTS idx_grievance_emails_category ON grievance_emails (category);
`

// bind rewrites ? placeholders for the adapter's driver.
func (a *HistoryAdapter) bind(query string) string {
	if a.dialect == dialectSQLite {
		return query
	}
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func (a *HistoryAdapter) insertStatement() string {
	n := len(strings.Split(grievanceColumns, ","))
	cols := grievanceColumns
	if a.dialect == dialectPostgres {
		cols += ", attachment_keys"
		n++
	}
	return a.bind(fmt.Sprintf("INSERT INTO grievance_emails (%s) VALUES (%s)",
		cols, strings.TrimSuffix(strings.Repeat("?, ", n), ", ")))
}

func (a *HistoryAdapter) insertArgs(row *grievanceRow) []any {
	args := row.values()
	if a.dialect == dialectPostgres {
		args = append(args, pq.Array(row.attachmentKeys()))
	}
	return args
}

func (a *HistoryAdapter) LoadAll(ctx context.Context) ([]*domain.GrievanceEmail, error) {
	return a.query(ctx, "SELECT "+grievanceColumns+" FROM grievance_emails ORDER BY seq")
}

func (a *HistoryAdapter) Append(ctx context.Context, email *domain.GrievanceEmail) error {
	if email == nil || email.Seq <= 0 {
		return ErrInvalidInput
	}
	_, err := a.db.ExecContext(ctx, a.insertStatement(), a.insertArgs(fromEntity(email))...)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ReplaceAll swaps the whole table in one transaction.
func (a *HistoryAdapter) ReplaceAll(ctx context.Context, emails []*domain.GrievanceEmail) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM grievance_emails"); err != nil {
		return err
	}

	stmt, err := tx.PreparexContext(ctx, a.insertStatement())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range emails {
		if _, err := stmt.ExecContext(ctx, a.insertArgs(fromEntity(e))...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("replace %s: %w", e.EmailID, ErrDuplicate)
			}
			return err
		}
	}
	return tx.Commit()
}

func (a *HistoryAdapter) Exists(ctx context.Context, emailID string) (bool, error) {
	if emailID == "" {
		return false, nil
	}
	var n int
	err := a.db.GetContext(ctx, &n, a.bind("SELECT COUNT(*) FROM grievance_emails WHERE email_id = ?"), emailID)
	return n > 0, err
}

func (a *HistoryAdapter) Get(ctx context.Context, emailID string) (*domain.GrievanceEmail, error) {
	var row grievanceRow
	err := a.db.QueryRowxContext(ctx,
		a.bind("SELECT "+grievanceColumns+" FROM grievance_emails WHERE email_id = ? AND email_id <> ''"),
		emailID,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (a *HistoryAdapter) ListByCategory(ctx context.Context, category domain.Category) ([]*domain.GrievanceEmail, error) {
	return a.query(ctx,
		a.bind("SELECT "+grievanceColumns+" FROM grievance_emails WHERE category = ? ORDER BY seq"),
		string(category),
	)
}

func (a *HistoryAdapter) CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error) {
	var rows []struct {
		Name  string `db:"name"`
		Count int    `db:"count"`
	}
	err := a.db.SelectContext(ctx, &rows,
		"SELECT category AS name, COUNT(*) AS count FROM grievance_emails GROUP BY category ORDER BY category")
	if err != nil {
		return nil, err
	}
	counts := make([]domain.CategoryCount, len(rows))
	for i, r := range rows {
		counts[i] = domain.CategoryCount{Name: domain.Category(r.Name), Count: r.Count}
	}
	return counts, nil
}

func (a *HistoryAdapter) MailTypeCounts(ctx context.Context) (*domain.DashboardStats, error) {
	var row struct {
		Total    int `db:"total"`
		FollowUp int `db:"followup"`
	}
	err := a.db.GetContext(ctx, &row, a.bind(`
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN mail_type = ? THEN 1 ELSE 0 END), 0) AS followup
		FROM grievance_emails`), string(domain.MailTypeFollowUp))
	if err != nil {
		return nil, err
	}
	return &domain.DashboardStats{
		Total:    row.Total,
		FollowUp: row.FollowUp,
		Fresh:    row.Total - row.FollowUp,
	}, nil
}

func (a *HistoryAdapter) NextSeq(ctx context.Context) (int64, error) {
	var last int64
	if err := a.db.GetContext(ctx, &last, "SELECT COALESCE(MAX(seq), 0) FROM grievance_emails"); err != nil {
		return 0, err
	}
	return last + 1, nil
}

// Ping checks the connection for readiness probes.
func (a *HistoryAdapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx)
}

// DB exposes the handle for pool monitoring.
func (a *HistoryAdapter) DB() *sql.DB {
	return a.db.DB
}

func (a *HistoryAdapter) Close() error {
	return a.db.Close()
}

func (a *HistoryAdapter) query(ctx context.Context, query string, args ...any) ([]*domain.GrievanceEmail, error) {
	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []*domain.GrievanceEmail
	for rows.Next() {
		var row grievanceRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		emails = append(emails, row.toEntity())
	}
	return emails, rows.Err()
}
