package repositories

import (
	"context"

	"github.com/GroupLang/agent-market-client/internal/models"
)

// LedgerRepository stores one settlement entry per instance. Record is
// idempotent: a second entry for the same instance is ignored and
// reported as not inserted.
type LedgerRepository interface {
	Migrate(ctx context.Context) error
	Record(ctx context.Context, e *models.LedgerEntry) (bool, error)
	GetByInstanceID(ctx context.Context, instanceID string) (*models.LedgerEntry, error)
	List(ctx context.Context) ([]*models.LedgerEntry, error)
	Ping(ctx context.Context) error
	Close()
}

const ledgerColumns = `instance_id, origin, provider_id, max_credit, bid, reward, blocked,
	requester_delta, provider_delta, settled_at`
