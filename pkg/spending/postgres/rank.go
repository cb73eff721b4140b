package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// maxRankLimit caps the number of ranked rows a single query may return.
const maxRankLimit = 1000

// providerColumns are the select list for provider summaries.
var providerColumns = []string{
	"c.billing_npi",
	"COALESCE(p.name, '') AS provider_name",
	"COALESCE(p.specialty, '') AS specialty",
	"COALESCE(p.city, '') AS city",
	"COALESCE(p.state, '') AS state",
	"SUM(c.total_paid) AS total_paid",
	"SUM(c.total_claims) AS total_claims",
	"SUM(c.beneficiaries) AS total_beneficiaries",
	"COUNT(DISTINCT c.claim_month) AS active_months",
	"COUNT(DISTINCT c.hcpcs_code) AS code_count",
}

// codeColumns are the select list for code summaries.
var codeColumns = []string{
	"c.hcpcs_code",
	"COALESCE(h.description, '') AS description",
	"SUM(c.total_paid) AS total_paid",
	"SUM(c.total_claims) AS total_claims",
	"SUM(c.beneficiaries) AS total_beneficiaries",
	"COUNT(DISTINCT c.billing_npi) AS provider_count",
}

// clampRankLimit applies the store's upper bound to a ranking limit.
func clampRankLimit(limit int) uint64 {
	if limit <= 0 || limit > maxRankLimit {
		return maxRankLimit
	}
	return uint64(limit) // #nosec G115 -- limit is clamped to [1, maxRankLimit]
}

// providerQuery builds the grouped provider aggregation.
func providerQuery(r spending.Range) sq.SelectBuilder {
	return withRange(psq.Select(providerColumns...).
		From("claims c").
		LeftJoin("providers p ON p.npi = c.billing_npi").
		GroupBy("c.billing_npi", "p.name", "p.specialty", "p.city", "p.state"), r)
}

// codeQuery builds the grouped code aggregation.
func codeQuery(r spending.Range) sq.SelectBuilder {
	return withRange(psq.Select(codeColumns...).
		From("claims c").
		LeftJoin("hcpcs_codes h ON h.code = c.hcpcs_code").
		GroupBy("c.hcpcs_code", "h.description"), r)
}

// TopProviders ranks providers by the sort key, ties broken by NPI ascending.
func (s *Store) TopProviders(ctx context.Context, q spending.RankQuery) ([]spending.ProviderSummary, error) {
	if !spending.ProviderSortKeys[q.SortBy] {
		return nil, fmt.Errorf("invalid provider sort key: %q", q.SortBy)
	}

	// SortBy is validated against ProviderSortKeys, safe for ORDER BY.
	qb := providerQuery(q.Range).
		OrderBy(string(q.SortBy)+" DESC", "c.billing_npi ASC").
		Limit(clampRankLimit(q.Limit))
	if q.Code != "" {
		qb = qb.Where(sq.Eq{"c.hcpcs_code": q.Code})
	}

	return s.queryProviders(ctx, qb)
}

// Provider returns one provider's summary or spending.ErrNotFound.
func (s *Store) Provider(ctx context.Context, npi string, r spending.Range) (*spending.ProviderSummary, error) {
	qb := providerQuery(r).Where(sq.Eq{"c.billing_npi": npi})
	out, err := s.queryProviders(ctx, qb)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("provider %s: %w", npi, spending.ErrNotFound)
	}
	return &out[0], nil
}

func (s *Store) queryProviders(ctx context.Context, qb sq.SelectBuilder) ([]spending.ProviderSummary, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building provider query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []spending.ProviderSummary
	for rows.Next() {
		var p spending.ProviderSummary
		if err := rows.Scan(
			&p.NPI,
			&p.Name,
			&p.Specialty,
			&p.City,
			&p.State,
			&p.TotalPaid,
			&p.TotalClaims,
			&p.TotalBeneficiaries,
			&p.ActiveMonths,
			&p.CodeCount,
		); err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provider rows: %w", err)
	}

	if out == nil {
		out = []spending.ProviderSummary{}
	}
	return out, nil
}

// TopCodes ranks codes by the sort key, ties broken by code ascending.
func (s *Store) TopCodes(ctx context.Context, q spending.RankQuery) ([]spending.CodeSummary, error) {
	if !spending.CodeSortKeys[q.SortBy] {
		return nil, fmt.Errorf("invalid code sort key: %q", q.SortBy)
	}

	// SortBy is validated against CodeSortKeys, safe for ORDER BY.
	qb := codeQuery(q.Range).
		OrderBy(string(q.SortBy)+" DESC", "c.hcpcs_code ASC").
		Limit(clampRankLimit(q.Limit))
	if q.NPI != "" {
		qb = qb.Where(sq.Eq{"c.billing_npi": q.NPI})
	}

	return s.queryCodes(ctx, qb)
}

// Code returns one code's summary or spending.ErrNotFound.
func (s *Store) Code(ctx context.Context, code string, r spending.Range) (*spending.CodeSummary, error) {
	qb := codeQuery(r).Where(sq.Eq{"c.hcpcs_code": code})
	out, err := s.queryCodes(ctx, qb)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("code %s: %w", code, spending.ErrNotFound)
	}
	return &out[0], nil
}

func (s *Store) queryCodes(ctx context.Context, qb sq.SelectBuilder) ([]spending.CodeSummary, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building code query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying codes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []spending.CodeSummary
	for rows.Next() {
		var c spending.CodeSummary
		if err := rows.Scan(
			&c.Code,
			&c.Description,
			&c.TotalPaid,
			&c.TotalClaims,
			&c.TotalBeneficiaries,
			&c.ProviderCount,
		); err != nil {
			return nil, fmt.Errorf("scanning code row: %w", err)
		}
		c.AvgPaidPerClaim = avgPerClaim(c.TotalPaid, c.TotalClaims)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating code rows: %w", err)
	}

	if out == nil {
		out = []spending.CodeSummary{}
	}
	return out, nil
}

// avgPerClaim is total paid over total claims, rounded to cents.
func avgPerClaim(paid spending.Money, claims int64) spending.Money {
	if claims == 0 {
		return spending.Money{}
	}
	return spending.NewMoney(paid.Div(decimal.NewFromInt(claims)).Round(2))
}

// ProviderNames resolves display names for the given NPIs.
// NPIs absent from the directory are omitted.
func (s *Store) ProviderNames(ctx context.Context, npis []string) (map[string]string, error) {
	names := make(map[string]string, len(npis))
	if len(npis) == 0 {
		return names, nil
	}

	query, args, err := psq.Select("npi", "COALESCE(name, '')").
		From("providers").
		Where(sq.Eq{"npi": npis}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building provider names query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying provider names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var npi, name string
		if err := rows.Scan(&npi, &name); err != nil {
			return nil, fmt.Errorf("scanning provider name row: %w", err)
		}
		names[npi] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provider name rows: %w", err)
	}
	return names, nil
}

// StreamPairTotals streams all-time provider totals per code, ordered by code
// then NPI, to fn. A zero filter streams every code.
func (s *Store) StreamPairTotals(ctx context.Context, f spending.PairFilter, fn func(spending.PairTotal) error) error {
	qb := psq.Select(
		"c.billing_npi",
		"c.hcpcs_code",
		"SUM(c.total_paid) AS total_paid",
		"SUM(c.total_claims) AS total_claims",
		"SUM(c.beneficiaries) AS total_beneficiaries",
	).From("claims c").
		GroupBy("c.hcpcs_code", "c.billing_npi").
		OrderBy("c.hcpcs_code ASC", "c.billing_npi ASC")
	if f.Code != "" {
		qb = qb.Where(sq.Eq{"c.hcpcs_code": f.Code})
	}
	if f.NPI != "" {
		qb = qb.Where("c.hcpcs_code IN (SELECT DISTINCT hcpcs_code FROM claims WHERE billing_npi = ?)", f.NPI)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building pair totals query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying pair totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p spending.PairTotal
		if err := rows.Scan(&p.NPI, &p.Code, &p.TotalPaid, &p.TotalClaims, &p.TotalBeneficiaries); err != nil {
			return fmt.Errorf("scanning pair totals row: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating pair totals rows: %w", err)
	}
	return nil
}
