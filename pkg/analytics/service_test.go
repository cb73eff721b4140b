package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/spending"
	"github.com/txn2/medicaid-explorer/pkg/spending/memory"
)

const (
	npiA  = "1000000001"
	npiB  = "1000000002"
	npiC  = "1000000003"
	npiD  = "1000000004"
	codeX = "X"
	codeY = "Y"
)

func month(y int, m time.Month) spending.Month {
	return spending.Month{Year: y, Month: m}
}

func claim(npi, code string, m spending.Month, claims int64, paid string) spending.Claim {
	return spending.Claim{
		BillingNPI:    npi,
		Code:          code,
		Month:         m,
		Beneficiaries: 1,
		TotalClaims:   claims,
		TotalPaid:     spending.NewMoney(decimal.RequireFromString(paid)),
	}
}

func newService(claims []spending.Claim) *Service {
	store := memory.New(claims, []spending.ProviderInfo{{NPI: npiD, Name: "Outlier Care LLC"}}, nil)
	return NewService(store, anomaly.NewDetector(store, anomaly.Config{}))
}

func TestScenario_SingleProviderSingleMonth(t *testing.T) {
	svc := newService([]spending.Claim{claim(npiA, codeX, month(2023, time.January), 2, "100")})

	o, err := svc.Overview(context.Background(), spending.Range{})
	require.NoError(t, err)
	assert.True(t, o.TotalPaid.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), o.TotalClaims)

	trend, err := svc.Trends(context.Background(), spending.TrendFilter{})
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assert.Equal(t, month(2023, time.January), trend[0].ClaimMonth)
	assert.Nil(t, trend[0].YoYGrowthPct)
}

func TestTrends_ZeroFillsGaps(t *testing.T) {
	svc := newService([]spending.Claim{
		claim(npiA, codeX, month(2023, time.January), 1, "10"),
		claim(npiA, codeX, month(2023, time.April), 1, "40"),
	})

	trend, err := svc.Trends(context.Background(), spending.TrendFilter{})
	require.NoError(t, err)
	require.Len(t, trend, 4)
	for i, want := range []string{"2023-01", "2023-02", "2023-03", "2023-04"} {
		assert.Equal(t, want, trend[i].ClaimMonth.String())
	}
	assert.True(t, trend[1].TotalPaid.IsZero())
	assert.Equal(t, int64(0), trend[2].ActiveProviders)
	assert.Equal(t, "40.00", trend[3].TotalPaid.StringFixed(2))
}

func TestTrends_BoundsExtendSeries(t *testing.T) {
	svc := newService([]spending.Claim{claim(npiA, codeX, month(2023, time.March), 1, "10")})
	start, end := month(2023, time.February), month(2023, time.May)

	trend, err := svc.Trends(context.Background(), spending.TrendFilter{Range: spending.Range{Start: &start, End: &end}})
	require.NoError(t, err)
	require.Len(t, trend, 4)
	assert.Equal(t, "2023-02", trend[0].ClaimMonth.String())
	assert.Equal(t, "2023-05", trend[3].ClaimMonth.String())
}

func TestTrends_Empty(t *testing.T) {
	trend, err := newService(nil).Trends(context.Background(), spending.TrendFilter{})
	require.NoError(t, err)
	assert.NotNil(t, trend)
	assert.Empty(t, trend)
}

func TestTrends_InvertedRange(t *testing.T) {
	start, end := month(2023, time.May), month(2023, time.February)
	_, err := newService(nil).Trends(context.Background(), spending.TrendFilter{Range: spending.Range{Start: &start, End: &end}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTrends_YearOverYear(t *testing.T) {
	svc := newService([]spending.Claim{
		claim(npiA, codeX, month(2022, time.January), 1, "100"),
		claim(npiA, codeX, month(2023, time.January), 1, "150"),
		claim(npiA, codeX, month(2023, time.February), 1, "20"),
	})

	trend, err := svc.Trends(context.Background(), spending.TrendFilter{})
	require.NoError(t, err)
	require.Len(t, trend, 14)
	for i := range 12 {
		assert.Nil(t, trend[i].YoYGrowthPct, "no prior year for %s", trend[i].ClaimMonth)
	}
	require.NotNil(t, trend[12].YoYGrowthPct)
	assert.InDelta(t, 50.0, *trend[12].YoYGrowthPct, 1e-9)
	assert.Nil(t, trend[13].YoYGrowthPct, "prior-year month paid nothing")
}

func TestTopProviders_Validation(t *testing.T) {
	svc := newService(nil)
	tests := []struct {
		name string
		q    spending.RankQuery
	}{
		{name: "limit too large", q: spending.RankQuery{Limit: 101}},
		{name: "negative limit", q: spending.RankQuery{Limit: -1}},
		{name: "code-only key", q: spending.RankQuery{SortBy: spending.SortByProviderCount}},
		{name: "unknown key", q: spending.RankQuery{SortBy: "name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TopProviders(context.Background(), tt.q)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestTopCodes_ProviderCountKey(t *testing.T) {
	svc := newService([]spending.Claim{
		claim(npiA, codeX, month(2023, time.January), 1, "10"),
		claim(npiB, codeX, month(2023, time.January), 1, "10"),
		claim(npiA, codeY, month(2023, time.January), 1, "500"),
	})
	codes, err := svc.TopCodes(context.Background(), spending.RankQuery{SortBy: spending.SortByProviderCount})
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, codeX, codes[0].Code)
	assert.Equal(t, int64(2), codes[0].ProviderCount)
}

// Ranking every provider accounts for every paid dollar exactly.
func TestTopProviders_SumMatchesOverview(t *testing.T) {
	svc := newService([]spending.Claim{
		claim(npiA, codeX, month(2023, time.January), 1, "0.10"),
		claim(npiB, codeX, month(2023, time.February), 1, "0.20"),
		claim(npiC, codeY, month(2023, time.March), 1, "1234567.89"),
		claim(npiA, codeY, month(2023, time.March), 3, "0.01"),
	})
	o, err := svc.Overview(context.Background(), spending.Range{})
	require.NoError(t, err)

	providers, err := svc.TopProviders(context.Background(), spending.RankQuery{Limit: MaxRankLimit})
	require.NoError(t, err)
	sum := decimal.Zero
	for i, p := range providers {
		sum = sum.Add(p.TotalPaid.Decimal)
		if i > 0 {
			assert.True(t, providers[i-1].TotalPaid.GreaterThanOrEqual(p.TotalPaid.Decimal))
		}
	}
	assert.True(t, sum.Equal(o.TotalPaid.Decimal), "sum %s overview %s", sum, o.TotalPaid)
}

// The monthly series over the full span accounts for every paid dollar,
// including sub-cent amounts and zero-filled months.
func TestTrends_SumMatchesOverview(t *testing.T) {
	svc := newService([]spending.Claim{
		claim(npiA, codeX, month(2022, time.November), 1, "0.005"),
		claim(npiB, codeY, month(2022, time.November), 2, "19.995"),
		claim(npiA, codeX, month(2023, time.February), 1, "0.3333"),
		claim(npiC, codeX, month(2023, time.June), 4, "987654.3217"),
		claim(npiD, codeY, month(2023, time.June), 1, "0.0001"),
	})
	ctx := context.Background()

	o, err := svc.Overview(ctx, spending.Range{})
	require.NoError(t, err)
	trend, err := svc.Trends(ctx, spending.TrendFilter{})
	require.NoError(t, err)
	require.Len(t, trend, 8)

	sum := decimal.Zero
	var zeroMonths int
	for _, p := range trend {
		sum = sum.Add(p.TotalPaid.Decimal)
		if p.TotalPaid.IsZero() {
			zeroMonths++
		}
	}
	assert.Equal(t, 5, zeroMonths)
	assert.True(t, sum.Equal(o.TotalPaid.Decimal), "sum %s overview %s", sum, o.TotalPaid)
	assert.Equal(t, "987674.6551", sum.String())
}

func outlierClaims() []spending.Claim {
	jan := month(2023, time.January)
	return []spending.Claim{
		claim(npiA, codeX, jan, 1, "10"),
		claim(npiB, codeX, jan, 1, "10"),
		claim(npiC, codeX, jan, 1, "10"),
		claim(npiD, codeX, jan, 1, "1000"),
	}
}

func TestProviderDetail(t *testing.T) {
	svc := newService(outlierClaims())

	d, err := svc.ProviderDetail(context.Background(), npiD)
	require.NoError(t, err)
	assert.Equal(t, "Outlier Care LLC", d.Provider.Name)
	require.Len(t, d.Trend, 1)
	require.Len(t, d.TopCodes, 1)
	assert.Equal(t, codeX, d.TopCodes[0].Code)
	assert.Empty(t, d.Anomalies, "z of 1.5 is below the detail threshold")
}

func TestProviderDetail_NotFound(t *testing.T) {
	_, err := newService(outlierClaims()).ProviderDetail(context.Background(), "9999999999")
	assert.ErrorIs(t, err, spending.ErrNotFound)

	_, err = newService(nil).ProviderDetail(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCodeDetail(t *testing.T) {
	svc := newService(outlierClaims())

	d, err := svc.CodeDetail(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, codeX, d.Code.Code)
	require.Len(t, d.TopProviders, 4)
	assert.Equal(t, npiD, d.TopProviders[0].NPI)

	_, err = svc.CodeDetail(context.Background(), "ZZZ")
	assert.True(t, errors.Is(err, spending.ErrNotFound))
}

func TestAnomalies_Floor(t *testing.T) {
	svc := newService(outlierClaims())

	_, err := svc.Anomalies(context.Background(), anomaly.Query{MinZScore: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Anomalies(context.Background(), anomaly.Query{Limit: 500})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	recs, err := svc.Anomalies(context.Background(), anomaly.Query{MinZScore: 2})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
