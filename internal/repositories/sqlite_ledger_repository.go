package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GroupLang/agent-market-client/internal/models"
)

type sqliteLedgerRepo struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository opens (or creates) the ledger at dsn. Use
// ":memory:" for a throwaway ledger.
func NewSQLiteLedgerRepository(dsn string) (LedgerRepository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	return &sqliteLedgerRepo{db: db}, nil
}

func (r *sqliteLedgerRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlement_ledger (
			instance_id     TEXT PRIMARY KEY,
			origin          TEXT NOT NULL,
			provider_id     TEXT NOT NULL DEFAULT '',
			max_credit      INTEGER NOT NULL,
			bid             INTEGER NOT NULL,
			reward          INTEGER,
			blocked         INTEGER NOT NULL DEFAULT 0,
			requester_delta INTEGER NOT NULL,
			provider_delta  INTEGER NOT NULL,
			settled_at      TEXT NOT NULL
		)`)
	return err
}

func (r *sqliteLedgerRepo) Record(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	var reward sql.NullInt64
	if e.Reward != nil {
		reward = sql.NullInt64{Int64: int64(*e.Reward), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO settlement_ledger (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO NOTHING`,
		e.InstanceID, string(e.Origin), e.ProviderID, int64(e.MaxCredit), int64(e.Bid), reward,
		e.Blocked, int64(e.RequesterDelta), int64(e.ProviderDelta), e.SettledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *sqliteLedgerRepo) GetByInstanceID(ctx context.Context, instanceID string) (*models.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledger WHERE instance_id = ?`, instanceID)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *sqliteLedgerRepo) List(ctx context.Context) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledger ORDER BY settled_at, instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *sqliteLedgerRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqliteLedgerRepo) Close() {
	_ = r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		origin    string
		maxCredit int64
		bid       int64
		reward    sql.NullInt64
		reqDelta  int64
		provDelta int64
		settledAt string
	)
	if err := row.Scan(&e.InstanceID, &origin, &e.ProviderID, &maxCredit, &bid, &reward, &e.Blocked,
		&reqDelta, &provDelta, &settledAt); err != nil {
		return nil, err
	}
	e.Origin = models.Origin(origin)
	e.MaxCredit = models.Credits(maxCredit)
	e.Bid = models.Credits(bid)
	if reward.Valid {
		v := models.Credits(reward.Int64)
		e.Reward = &v
	}
	e.RequesterDelta = models.Credits(reqDelta)
	e.ProviderDelta = models.Credits(provDelta)
	t, err := time.Parse(time.RFC3339Nano, settledAt)
	if err != nil {
		return nil, err
	}
	e.SettledAt = t
	return &e, nil
}
