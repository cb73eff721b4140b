// Package memory provides an in-process spending.Reader over a claim slice.
// It serves small demo datasets and is the reference implementation the
// PostgreSQL store is checked against.
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// Store holds an immutable dataset. It is safe for concurrent reads.
type Store struct {
	claims    []spending.Claim
	providers map[string]spending.ProviderInfo
	codes     map[string]string
}

var _ spending.Reader = (*Store)(nil)

// New copies the dataset into a store.
func New(claims []spending.Claim, providers []spending.ProviderInfo, codes []spending.CodeInfo) *Store {
	s := &Store{
		claims:    append([]spending.Claim(nil), claims...),
		providers: make(map[string]spending.ProviderInfo, len(providers)),
		codes:     make(map[string]string, len(codes)),
	}
	for _, p := range providers {
		s.providers[p.NPI] = p
	}
	for _, c := range codes {
		s.codes[c.Code] = c.Description
	}
	return s
}

// Ping always succeeds.
func (*Store) Ping(context.Context) error {
	return nil
}

func inRange(m spending.Month, r spending.Range) bool {
	if r.Start != nil && m.Before(*r.Start) {
		return false
	}
	if r.End != nil && r.End.Before(m) {
		return false
	}
	return true
}

// each calls fn for every claim in range that passes the filters.
func (s *Store) each(r spending.Range, npi, code string, fn func(spending.Claim)) {
	for _, c := range s.claims {
		if !inRange(c.Month, r) {
			continue
		}
		if npi != "" && c.BillingNPI != npi {
			continue
		}
		if code != "" && c.Code != code {
			continue
		}
		fn(c)
	}
}

// Overview returns dataset totals within the range.
func (s *Store) Overview(_ context.Context, r spending.Range) (*spending.Overview, error) {
	o := &spending.Overview{TotalPaid: spending.NewMoney(decimal.Zero)}
	npis := map[string]bool{}
	codes := map[string]bool{}
	s.each(r, "", "", func(c spending.Claim) {
		o.TotalPaid = spending.NewMoney(o.TotalPaid.Add(c.TotalPaid.Decimal))
		o.TotalClaims += c.TotalClaims
		o.TotalBeneficiaries += c.Beneficiaries
		o.TotalRows++
		npis[c.BillingNPI] = true
		codes[c.Code] = true
		if o.DateFrom.IsZero() || c.Month.Before(o.DateFrom) {
			o.DateFrom = c.Month
		}
		if o.DateTo.IsZero() || o.DateTo.Before(c.Month) {
			o.DateTo = c.Month
		}
	})
	o.TotalProviders = int64(len(npis))
	o.TotalCodes = int64(len(codes))
	return o, nil
}

// MonthlyTotals returns one row per month with activity, ascending.
func (s *Store) MonthlyTotals(_ context.Context, f spending.TrendFilter) ([]spending.MonthlyTrend, error) {
	type acc struct {
		point spending.MonthlyTrend
		npis  map[string]bool
	}
	byMonth := map[spending.Month]*acc{}
	s.each(f.Range, f.NPI, f.Code, func(c spending.Claim) {
		a, ok := byMonth[c.Month]
		if !ok {
			a = &acc{point: spending.MonthlyTrend{ClaimMonth: c.Month, TotalPaid: spending.NewMoney(decimal.Zero)}, npis: map[string]bool{}}
			byMonth[c.Month] = a
		}
		a.point.TotalPaid = spending.NewMoney(a.point.TotalPaid.Add(c.TotalPaid.Decimal))
		a.point.TotalClaims += c.TotalClaims
		a.point.TotalBeneficiaries += c.Beneficiaries
		a.npis[c.BillingNPI] = true
	})

	points := make([]spending.MonthlyTrend, 0, len(byMonth))
	for _, a := range byMonth {
		a.point.ActiveProviders = int64(len(a.npis))
		points = append(points, a.point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ClaimMonth.Before(points[j].ClaimMonth) })
	return points, nil
}

type providerAcc struct {
	sum    spending.ProviderSummary
	months map[spending.Month]bool
	codes  map[string]bool
}

func (s *Store) providerSummaries(r spending.Range, npi, code string) []spending.ProviderSummary {
	byNPI := map[string]*providerAcc{}
	s.each(r, npi, code, func(c spending.Claim) {
		a, ok := byNPI[c.BillingNPI]
		if !ok {
			info := s.providers[c.BillingNPI]
			a = &providerAcc{
				sum: spending.ProviderSummary{
					NPI:       c.BillingNPI,
					Name:      info.Name,
					Specialty: info.Specialty,
					City:      info.City,
					State:     info.State,
					TotalPaid: spending.NewMoney(decimal.Zero),
				},
				months: map[spending.Month]bool{},
				codes:  map[string]bool{},
			}
			byNPI[c.BillingNPI] = a
		}
		a.sum.TotalPaid = spending.NewMoney(a.sum.TotalPaid.Add(c.TotalPaid.Decimal))
		a.sum.TotalClaims += c.TotalClaims
		a.sum.TotalBeneficiaries += c.Beneficiaries
		a.months[c.Month] = true
		a.codes[c.Code] = true
	})

	out := make([]spending.ProviderSummary, 0, len(byNPI))
	for _, a := range byNPI {
		a.sum.ActiveMonths = int64(len(a.months))
		a.sum.CodeCount = int64(len(a.codes))
		out = append(out, a.sum)
	}
	return out
}

type codeAcc struct {
	sum  spending.CodeSummary
	npis map[string]bool
}

func (s *Store) codeSummaries(r spending.Range, npi, code string) []spending.CodeSummary {
	byCode := map[string]*codeAcc{}
	s.each(r, npi, code, func(c spending.Claim) {
		a, ok := byCode[c.Code]
		if !ok {
			a = &codeAcc{
				sum: spending.CodeSummary{
					Code:        c.Code,
					Description: s.codes[c.Code],
					TotalPaid:   spending.NewMoney(decimal.Zero),
				},
				npis: map[string]bool{},
			}
			byCode[c.Code] = a
		}
		a.sum.TotalPaid = spending.NewMoney(a.sum.TotalPaid.Add(c.TotalPaid.Decimal))
		a.sum.TotalClaims += c.TotalClaims
		a.sum.TotalBeneficiaries += c.Beneficiaries
		a.npis[c.BillingNPI] = true
	})

	out := make([]spending.CodeSummary, 0, len(byCode))
	for _, a := range byCode {
		a.sum.ProviderCount = int64(len(a.npis))
		if a.sum.TotalClaims > 0 {
			a.sum.AvgPaidPerClaim = spending.NewMoney(a.sum.TotalPaid.Div(decimal.NewFromInt(a.sum.TotalClaims)).Round(2))
		}
		out = append(out, a.sum)
	}
	return out
}

// providerKey returns the ranking value of a provider for a sort key.
func providerKey(p spending.ProviderSummary, key spending.SortKey) decimal.Decimal {
	switch key {
	case spending.SortByTotalClaims:
		return decimal.NewFromInt(p.TotalClaims)
	case spending.SortByTotalBeneficiaries:
		return decimal.NewFromInt(p.TotalBeneficiaries)
	default:
		return p.TotalPaid.Decimal
	}
}

func codeKey(c spending.CodeSummary, key spending.SortKey) decimal.Decimal {
	switch key {
	case spending.SortByTotalClaims:
		return decimal.NewFromInt(c.TotalClaims)
	case spending.SortByTotalBeneficiaries:
		return decimal.NewFromInt(c.TotalBeneficiaries)
	case spending.SortByProviderCount:
		return decimal.NewFromInt(c.ProviderCount)
	default:
		return c.TotalPaid.Decimal
	}
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// TopProviders ranks providers by the sort key, ties broken by NPI ascending.
func (s *Store) TopProviders(_ context.Context, q spending.RankQuery) ([]spending.ProviderSummary, error) {
	if !spending.ProviderSortKeys[q.SortBy] {
		return nil, fmt.Errorf("invalid provider sort key: %q", q.SortBy)
	}
	out := s.providerSummaries(q.Range, "", q.Code)
	sort.Slice(out, func(i, j int) bool {
		if c := providerKey(out[i], q.SortBy).Cmp(providerKey(out[j], q.SortBy)); c != 0 {
			return c > 0
		}
		return out[i].NPI < out[j].NPI
	})
	return truncate(out, q.Limit), nil
}

// TopCodes ranks codes by the sort key, ties broken by code ascending.
func (s *Store) TopCodes(_ context.Context, q spending.RankQuery) ([]spending.CodeSummary, error) {
	if !spending.CodeSortKeys[q.SortBy] {
		return nil, fmt.Errorf("invalid code sort key: %q", q.SortBy)
	}
	out := s.codeSummaries(q.Range, q.NPI, "")
	sort.Slice(out, func(i, j int) bool {
		if c := codeKey(out[i], q.SortBy).Cmp(codeKey(out[j], q.SortBy)); c != 0 {
			return c > 0
		}
		return out[i].Code < out[j].Code
	})
	return truncate(out, q.Limit), nil
}

// Provider returns one provider's summary or spending.ErrNotFound.
func (s *Store) Provider(_ context.Context, npi string, r spending.Range) (*spending.ProviderSummary, error) {
	out := s.providerSummaries(r, npi, "")
	if len(out) == 0 {
		return nil, fmt.Errorf("provider %s: %w", npi, spending.ErrNotFound)
	}
	return &out[0], nil
}

// Code returns one code's summary or spending.ErrNotFound.
func (s *Store) Code(_ context.Context, code string, r spending.Range) (*spending.CodeSummary, error) {
	out := s.codeSummaries(r, "", code)
	if len(out) == 0 {
		return nil, fmt.Errorf("code %s: %w", code, spending.ErrNotFound)
	}
	return &out[0], nil
}

// ProviderNames resolves display names from the directory.
func (s *Store) ProviderNames(_ context.Context, npis []string) (map[string]string, error) {
	names := make(map[string]string, len(npis))
	for _, npi := range npis {
		if p, ok := s.providers[npi]; ok {
			names[npi] = p.Name
		}
	}
	return names, nil
}

// StreamPairTotals streams provider totals per code ordered by code then NPI.
func (s *Store) StreamPairTotals(ctx context.Context, f spending.PairFilter, fn func(spending.PairTotal) error) error {
	var scope map[string]bool
	if f.NPI != "" {
		scope = map[string]bool{}
		s.each(spending.Range{}, f.NPI, "", func(c spending.Claim) { scope[c.Code] = true })
	}

	type key struct{ code, npi string }
	totals := map[key]*spending.PairTotal{}
	s.each(spending.Range{}, "", f.Code, func(c spending.Claim) {
		if scope != nil && !scope[c.Code] {
			return
		}
		k := key{code: c.Code, npi: c.BillingNPI}
		p, ok := totals[k]
		if !ok {
			p = &spending.PairTotal{NPI: c.BillingNPI, Code: c.Code, TotalPaid: spending.NewMoney(decimal.Zero)}
			totals[k] = p
		}
		p.TotalPaid = spending.NewMoney(p.TotalPaid.Add(c.TotalPaid.Decimal))
		p.TotalClaims += c.TotalClaims
		p.TotalBeneficiaries += c.Beneficiaries
	})

	pairs := make([]spending.PairTotal, 0, len(totals))
	for _, p := range totals {
		pairs = append(pairs, *p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Code != pairs[j].Code {
			return pairs[i].Code < pairs[j].Code
		}
		return pairs[i].NPI < pairs[j].NPI
	})

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("streaming pair totals: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}
