package repositories

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

type pgLedgerRepo struct {
	pool *pgxpool.Pool
	db   DB
}

// NewPGLedgerRepository stores the ledger in a shared Postgres database.
func NewPGLedgerRepository(pool *pgxpool.Pool) LedgerRepository {
	return &pgLedgerRepo{pool: pool, db: pool}
}

func (r *pgLedgerRepo) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settlement_ledger (
			instance_id     TEXT PRIMARY KEY,
			origin          TEXT NOT NULL,
			provider_id     TEXT NOT NULL DEFAULT '',
			max_credit      BIGINT NOT NULL,
			bid             BIGINT NOT NULL,
			reward          BIGINT,
			blocked         BOOLEAN NOT NULL DEFAULT FALSE,
			requester_delta BIGINT NOT NULL,
			provider_delta  BIGINT NOT NULL,
			settled_at      TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (r *pgLedgerRepo) Record(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	var reward *int64
	if e.Reward != nil {
		v := int64(*e.Reward)
		reward = &v
	}
	q := `
		INSERT INTO settlement_ledger (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instance_id) DO NOTHING`
	args := []any{
		e.InstanceID, string(e.Origin), e.ProviderID, int64(e.MaxCredit), int64(e.Bid), reward,
		e.Blocked, int64(e.RequesterDelta), int64(e.ProviderDelta), e.SettledAt,
	}

	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil && pgconn.SafeToRetry(err) {
		utils.Logger.WithError(err).Warn("Ledger insert failed before reaching the server; retrying once")
		tag, err = r.db.Exec(ctx, q, args...)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgLedgerRepo) GetByInstanceID(ctx context.Context, instanceID string) (*models.LedgerEntry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledger WHERE instance_id = $1`, instanceID)
	e, err := scanPGEntry(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *pgLedgerRepo) List(ctx context.Context) ([]*models.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledger ORDER BY settled_at, instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgLedgerRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *pgLedgerRepo) Close() {
	r.pool.Close()
}

func scanPGEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		origin    string
		maxCredit int64
		bid       int64
		reward    *int64
		reqDelta  int64
		provDelta int64
	)
	if err := row.Scan(&e.InstanceID, &origin, &e.ProviderID, &maxCredit, &bid, &reward, &e.Blocked,
		&reqDelta, &provDelta, &e.SettledAt); err != nil {
		return nil, err
	}
	e.Origin = models.Origin(origin)
	e.MaxCredit = models.Credits(maxCredit)
	e.Bid = models.Credits(bid)
	if reward != nil {
		v := models.Credits(*reward)
		e.Reward = &v
	}
	e.RequesterDelta = models.Credits(reqDelta)
	e.ProviderDelta = models.Credits(provDelta)
	return &e, nil
}
