// Package spending defines the provider-spending domain model and the
// read-only store contract used by the analytics, anomaly and chat packages.
package spending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a provider or code has no claim records.
var ErrNotFound = errors.New("not found")

// Table names exposed by the store.
const (
	TableClaims     = "claims"
	TableProviders  = "providers"
	TableHCPCSCodes = "hcpcs_codes"
)

// Tables lists every table the store exposes to ad hoc queries.
var Tables = []string{TableClaims, TableProviders, TableHCPCSCodes}

// Money is an exact decimal amount in dollars.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MoneyFromInt returns a whole-dollar amount.
func MoneyFromInt(v int64) Money {
	return Money{Decimal: decimal.NewFromInt(v)}
}

// MarshalJSON renders the amount as a JSON number with two fractional digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}

// Scan implements sql.Scanner for NUMERIC columns. NULL scans as zero.
func (m *Money) Scan(src any) error {
	if src == nil {
		m.Decimal = decimal.Zero
		return nil
	}
	return m.Decimal.Scan(src)
}

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// monthLayout is the canonical text form of a Month.
const monthLayout = "2006-01"

// ParseMonth parses "2006-01" or "2006-01-02"; the day is discarded.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	layout := monthLayout
	if len(s) == len(time.DateOnly) {
		layout = time.DateOnly
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: expected YYYY-MM", s)
	}
	return MonthOf(t), nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Time returns the first instant of the month in UTC.
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths returns the month n months later (earlier when n is negative).
func (m Month) AddMonths(n int) Month {
	return MonthOf(m.Time().AddDate(0, n, 0))
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// IsZero reports whether the month is unset.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

func (m Month) String() string {
	return m.Time().Format(monthLayout)
}

// MarshalJSON renders the month as "YYYY-MM".
func (m Month) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON parses "YYYY-MM" or "YYYY-MM-DD".
func (m *Month) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*m = Month{}
		return nil
	}
	parsed, err := ParseMonth(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Range bounds a query by claim month, inclusive on both ends.
// A nil bound is open.
type Range struct {
	Start *Month
	End   *Month
}

// Validate reports an inverted range.
func (r Range) Validate() error {
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return fmt.Errorf("start %s is after end %s", r.Start, r.End)
	}
	return nil
}

// Claim is one row of the claims fact table: a provider's activity for one
// code in one month. Claims are never mutated after load.
type Claim struct {
	BillingNPI    string
	ServicingNPI  string
	Code          string
	Month         Month
	Beneficiaries int64
	TotalClaims   int64
	TotalPaid     Money
}

// ProviderInfo is a provider directory entry.
type ProviderInfo struct {
	NPI       string
	Name      string
	Specialty string
	City      string
	State     string
}

// CodeInfo is a procedure code directory entry.
type CodeInfo struct {
	Code        string
	Description string
}

// Overview is the dataset-wide summary.
type Overview struct {
	TotalPaid          Money `json:"total_paid"`
	TotalClaims        int64 `json:"total_claims"`
	TotalBeneficiaries int64 `json:"total_beneficiaries"`
	TotalProviders     int64 `json:"total_providers"`
	TotalCodes         int64 `json:"total_codes"`
	TotalRows          int64 `json:"total_rows"`
	DateFrom           Month `json:"date_from"`
	DateTo             Month `json:"date_to"`
}

// MonthlyTrend is one point of a monthly series.
type MonthlyTrend struct {
	ClaimMonth         Month    `json:"claim_month"`
	TotalPaid          Money    `json:"total_paid"`
	TotalClaims        int64    `json:"total_claims"`
	ActiveProviders    int64    `json:"active_providers"`
	TotalBeneficiaries int64    `json:"total_beneficiaries"`
	YoYGrowthPct       *float64 `json:"yoy_growth_pct"`
}

// ProviderSummary aggregates one billing provider.
type ProviderSummary struct {
	NPI                string `json:"billing_npi"`
	Name               string `json:"provider_name"`
	Specialty          string `json:"specialty"`
	City               string `json:"city"`
	State              string `json:"state"`
	TotalPaid          Money  `json:"total_paid"`
	TotalClaims        int64  `json:"total_claims"`
	TotalBeneficiaries int64  `json:"total_beneficiaries"`
	ActiveMonths       int64  `json:"active_months"`
	CodeCount          int64  `json:"code_count"`
}

// CodeSummary aggregates one procedure code.
type CodeSummary struct {
	Code               string `json:"hcpcs_code"`
	Description        string `json:"description"`
	TotalPaid          Money  `json:"total_paid"`
	TotalClaims        int64  `json:"total_claims"`
	TotalBeneficiaries int64  `json:"total_beneficiaries"`
	ProviderCount      int64  `json:"provider_count"`
	AvgPaidPerClaim    Money  `json:"avg_paid_per_claim"`
}

// PairTotal is the all-time total of one provider for one code.
type PairTotal struct {
	NPI                string
	Code               string
	TotalPaid          Money
	TotalClaims        int64
	TotalBeneficiaries int64
}

// SortKey names the ranking column of a top-N query.
type SortKey string

// Sort keys.
const (
	SortByTotalPaid          SortKey = "total_paid"
	SortByTotalClaims        SortKey = "total_claims"
	SortByTotalBeneficiaries SortKey = "total_beneficiaries"
	SortByProviderCount      SortKey = "provider_count"
)

// ProviderSortKeys are valid for provider rankings.
var ProviderSortKeys = map[SortKey]bool{
	SortByTotalPaid:          true,
	SortByTotalClaims:        true,
	SortByTotalBeneficiaries: true,
}

// CodeSortKeys are valid for code rankings.
var CodeSortKeys = map[SortKey]bool{
	SortByTotalPaid:          true,
	SortByTotalClaims:        true,
	SortByTotalBeneficiaries: true,
	SortByProviderCount:      true,
}

// RankQuery selects a top-N ranking.
type RankQuery struct {
	Limit  int
	SortBy SortKey
	Range  Range
	// NPI restricts a code ranking to one provider.
	NPI string
	// Code restricts a provider ranking to one code.
	Code string
}

// TrendFilter selects a monthly series, optionally for one provider or code.
type TrendFilter struct {
	Range Range
	NPI   string
	Code  string
}

// PairFilter narrows a provider-code totals stream. Code restricts the
// stream to one code; NPI restricts it to the codes that provider bills,
// keeping every provider of those codes.
type PairFilter struct {
	Code string
	NPI  string
}

// Reader is the read-only store contract.
type Reader interface {
	Overview(ctx context.Context, r Range) (*Overview, error)
	MonthlyTotals(ctx context.Context, f TrendFilter) ([]MonthlyTrend, error)
	TopProviders(ctx context.Context, q RankQuery) ([]ProviderSummary, error)
	TopCodes(ctx context.Context, q RankQuery) ([]CodeSummary, error)
	Provider(ctx context.Context, npi string, r Range) (*ProviderSummary, error)
	Code(ctx context.Context, code string, r Range) (*CodeSummary, error)
	ProviderNames(ctx context.Context, npis []string) (map[string]string, error)
	StreamPairTotals(ctx context.Context, f PairFilter, fn func(PairTotal) error) error
	Ping(ctx context.Context) error
}
