package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridcert/ggo-engine/internal/model"
)

// PostgresRegistry implements Registry against the platform database.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a PostgreSQL-backed registry.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, access_token FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return &a, nil
}

func (r *PostgresRegistry) ListAutoRetiringFacilities(ctx context.Context, accountID, sector string) ([]model.Facility, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, gsrn, facility_type, sector, retiring_priority
		 FROM facilities
		 WHERE account_id = $1
		   AND facility_type = 'consumption'
		   AND retiring_priority IS NOT NULL
		   AND sector = $2
		 ORDER BY retiring_priority`, accountID, sector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facilities []model.Facility
	for rows.Next() {
		var f model.Facility
		if err := rows.Scan(&f.ID, &f.AccountID, &f.GSRN, &f.Type, &f.Sector, &f.RetiringPriority); err != nil {
			return nil, err
		}
		facilities = append(facilities, f)
	}
	return facilities, rows.Err()
}

func (r *PostgresRegistry) ListEligibleOutboundAgreements(ctx context.Context, accountID, technology string, begin time.Time) ([]model.TradeAgreement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, public_id, from_account_id, to_account_id, state,
		        date_from, date_to, technologies, amount, unit,
		        amount_percent, limit_to_consumption, transfer_priority
		 FROM trade_agreements
		 WHERE from_account_id = $1
		   AND state = 'ACCEPTED'
		   AND date_from <= $3 AND date_to >= $3
		   AND (cardinality(technologies) = 0 OR $2 = ANY(technologies))
		 ORDER BY transfer_priority`, accountID, technology, begin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAgreements(rows)
}

func (r *PostgresRegistry) ListConsumptionLimitedSources(ctx context.Context, accountID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT from_account_id
		 FROM trade_agreements
		 WHERE to_account_id = $1
		   AND state = 'ACCEPTED'
		   AND limit_to_consumption`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sources = append(sources, id)
	}
	return sources, rows.Err()
}

func scanAgreements(rows pgx.Rows) ([]model.TradeAgreement, error) {
	var agreements []model.TradeAgreement
	for rows.Next() {
		var a model.TradeAgreement
		if err := rows.Scan(&a.ID, &a.PublicID, &a.FromAccountID, &a.ToAccountID, &a.State,
			&a.DateFrom, &a.DateTo, &a.Technologies, &a.Amount, &a.Unit,
			&a.AmountPercent, &a.LimitToConsumption, &a.TransferPriority); err != nil {
			return nil, err
		}
		agreements = append(agreements, a)
	}
	return agreements, rows.Err()
}
