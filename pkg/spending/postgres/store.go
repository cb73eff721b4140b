// Package postgres provides the PostgreSQL implementation of spending.Reader.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// monthExpr normalizes claim_month to the first day of its month.
const monthExpr = "date_trunc('month', c.claim_month)::date"

// Store reads the claims fact table and its lookup tables.
// It never writes.
type Store struct {
	db *sql.DB
}

var _ spending.Reader = (*Store)(nil)

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Overview returns dataset totals within the range.
func (s *Store) Overview(ctx context.Context, r spending.Range) (*spending.Overview, error) {
	qb := withRange(psq.Select(
		"COALESCE(SUM(c.total_paid), 0) AS total_paid",
		"COALESCE(SUM(c.total_claims), 0) AS total_claims",
		"COALESCE(SUM(c.beneficiaries), 0) AS total_beneficiaries",
		"COUNT(DISTINCT c.billing_npi) AS total_providers",
		"COUNT(DISTINCT c.hcpcs_code) AS total_codes",
		"COUNT(*) AS total_rows",
		"MIN(c.claim_month) AS date_from",
		"MAX(c.claim_month) AS date_to",
	).From("claims c"), r)

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building overview query: %w", err)
	}

	var (
		o        spending.Overview
		from, to sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&o.TotalPaid,
		&o.TotalClaims,
		&o.TotalBeneficiaries,
		&o.TotalProviders,
		&o.TotalCodes,
		&o.TotalRows,
		&from,
		&to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying overview: %w", err)
	}
	if from.Valid {
		o.DateFrom = spending.MonthOf(from.Time)
	}
	if to.Valid {
		o.DateTo = spending.MonthOf(to.Time)
	}
	return &o, nil
}

// MonthlyTotals returns one row per month with activity, ascending.
// Months without activity are absent; callers decide how to fill gaps.
func (s *Store) MonthlyTotals(ctx context.Context, f spending.TrendFilter) ([]spending.MonthlyTrend, error) {
	qb := psq.Select(
		monthExpr+" AS month",
		"SUM(c.total_paid) AS total_paid",
		"SUM(c.total_claims) AS total_claims",
		"COUNT(DISTINCT c.billing_npi) AS active_providers",
		"SUM(c.beneficiaries) AS total_beneficiaries",
	).From("claims c").
		GroupBy("month").
		OrderBy("month ASC")
	qb = withRange(qb, f.Range)
	if f.NPI != "" {
		qb = qb.Where(sq.Eq{"c.billing_npi": f.NPI})
	}
	if f.Code != "" {
		qb = qb.Where(sq.Eq{"c.hcpcs_code": f.Code})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building monthly totals query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying monthly totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []spending.MonthlyTrend
	for rows.Next() {
		var (
			p     spending.MonthlyTrend
			month sql.NullTime
		)
		if err := rows.Scan(&month, &p.TotalPaid, &p.TotalClaims, &p.ActiveProviders, &p.TotalBeneficiaries); err != nil {
			return nil, fmt.Errorf("scanning monthly totals row: %w", err)
		}
		p.ClaimMonth = spending.MonthOf(month.Time)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating monthly totals rows: %w", err)
	}

	if points == nil {
		points = []spending.MonthlyTrend{}
	}
	return points, nil
}

// withRange restricts a claims query to the inclusive month range.
func withRange(qb sq.SelectBuilder, r spending.Range) sq.SelectBuilder {
	if r.Start != nil {
		qb = qb.Where(sq.GtOrEq{"c.claim_month": r.Start.Time()})
	}
	if r.End != nil {
		qb = qb.Where(sq.Lt{"c.claim_month": r.End.AddMonths(1).Time()})
	}
	return qb
}
