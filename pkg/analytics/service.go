// Package analytics computes the dashboard aggregations: dataset overview,
// monthly trends, top-N rankings and per-provider or per-code drill-downs.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/txn2/medicaid-explorer/pkg/anomaly"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// ErrInvalidArgument is returned for out-of-range limits, unknown sort keys
// and inverted date ranges.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// DefaultRankLimit is used when a ranking request omits the limit.
	DefaultRankLimit = 20
	// MaxRankLimit bounds ranking requests.
	MaxRankLimit = 100

	detailRankLimit     = 20
	detailAnomalyLimit  = 10
	detailAnomalyMinZ   = 3.0
	maxTrendMonths      = 100 * 12
	yoyLookbackInMonths = 12
)

// ProviderDetail is the drill-down view of one billing provider.
type ProviderDetail struct {
	Provider  *spending.ProviderSummary `json:"provider"`
	Trend     []spending.MonthlyTrend   `json:"trend"`
	TopCodes  []spending.CodeSummary    `json:"top_codes"`
	Anomalies []anomaly.Record          `json:"anomalies"`
}

// CodeDetail is the drill-down view of one procedure code.
type CodeDetail struct {
	Code         *spending.CodeSummary      `json:"code"`
	Trend        []spending.MonthlyTrend    `json:"trend"`
	TopProviders []spending.ProviderSummary `json:"top_providers"`
}

// Service answers aggregation requests against a read-only store.
type Service struct {
	store    spending.Reader
	detector *anomaly.Detector
}

// NewService creates an aggregation service.
func NewService(store spending.Reader, detector *anomaly.Detector) *Service {
	return &Service{store: store, detector: detector}
}

// Overview returns dataset-wide totals within r.
func (s *Service) Overview(ctx context.Context, r spending.Range) (*spending.Overview, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	o, err := s.store.Overview(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("computing overview: %w", err)
	}
	return o, nil
}

// Trends returns one point per calendar month of the span, zero-filled,
// with year-over-year growth where the prior-year month is in the series.
func (s *Service) Trends(ctx context.Context, f spending.TrendFilter) ([]spending.MonthlyTrend, error) {
	if err := f.Range.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	points, err := s.store.MonthlyTotals(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("computing trends: %w", err)
	}
	series, err := zeroFill(points, f.Range)
	if err != nil {
		return nil, err
	}
	applyYoY(series)
	return series, nil
}

// zeroFill expands points to every month from the range start (or first
// point) to the range end (or last point).
func zeroFill(points []spending.MonthlyTrend, r spending.Range) ([]spending.MonthlyTrend, error) {
	var first, last spending.Month
	if len(points) > 0 {
		first, last = points[0].ClaimMonth, points[len(points)-1].ClaimMonth
	}
	if r.Start != nil {
		first = *r.Start
	}
	if r.End != nil {
		last = *r.End
	}
	if first.IsZero() || last.IsZero() || last.Before(first) {
		return []spending.MonthlyTrend{}, nil
	}
	span := monthsBetween(first, last) + 1
	if span > maxTrendMonths {
		return nil, fmt.Errorf("%w: trend span of %d months exceeds %d", ErrInvalidArgument, span, maxTrendMonths)
	}

	byMonth := make(map[spending.Month]spending.MonthlyTrend, len(points))
	for _, p := range points {
		byMonth[p.ClaimMonth] = p
	}
	series := make([]spending.MonthlyTrend, 0, span)
	for m := first; !last.Before(m); m = m.AddMonths(1) {
		p, ok := byMonth[m]
		if !ok {
			p = spending.MonthlyTrend{ClaimMonth: m}
		}
		p.YoYGrowthPct = nil
		series = append(series, p)
	}
	return series, nil
}

func monthsBetween(a, b spending.Month) int {
	return (b.Year-a.Year)*12 + int(b.Month) - int(a.Month)
}

// applyYoY sets growth relative to the point twelve months earlier. It is
// left nil when that point is outside the series or paid nothing.
func applyYoY(series []spending.MonthlyTrend) {
	for i := yoyLookbackInMonths; i < len(series); i++ {
		prev := series[i-yoyLookbackInMonths].TotalPaid
		if prev.IsZero() {
			continue
		}
		growth := series[i].TotalPaid.Sub(prev.Decimal).Div(prev.Decimal).Shift(2).Round(2).InexactFloat64()
		series[i].YoYGrowthPct = &growth
	}
}

// TopProviders ranks billing providers.
func (s *Service) TopProviders(ctx context.Context, q spending.RankQuery) ([]spending.ProviderSummary, error) {
	q, err := normalizeRank(q, spending.ProviderSortKeys)
	if err != nil {
		return nil, err
	}
	out, err := s.store.TopProviders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ranking providers: %w", err)
	}
	return out, nil
}

// TopCodes ranks procedure codes.
func (s *Service) TopCodes(ctx context.Context, q spending.RankQuery) ([]spending.CodeSummary, error) {
	q, err := normalizeRank(q, spending.CodeSortKeys)
	if err != nil {
		return nil, err
	}
	out, err := s.store.TopCodes(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ranking codes: %w", err)
	}
	return out, nil
}

func normalizeRank(q spending.RankQuery, keys map[spending.SortKey]bool) (spending.RankQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultRankLimit
	}
	if q.SortBy == "" {
		q.SortBy = spending.SortByTotalPaid
	}
	if q.Limit < 1 || q.Limit > MaxRankLimit {
		return q, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxRankLimit)
	}
	if !keys[q.SortBy] {
		return q, fmt.Errorf("%w: sort_by must be one of %s", ErrInvalidArgument, sortKeyList(keys))
	}
	if err := q.Range.Validate(); err != nil {
		return q, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return q, nil
}

func sortKeyList(keys map[spending.SortKey]bool) string {
	ordered := []spending.SortKey{
		spending.SortByTotalPaid, spending.SortByTotalClaims,
		spending.SortByProviderCount, spending.SortByTotalBeneficiaries,
	}
	var names []string
	for _, k := range ordered {
		if keys[k] {
			names = append(names, string(k))
		}
	}
	return strings.Join(names, ", ")
}

// ProviderDetail returns the summary, trend, top codes and strongest
// anomalies of one provider. A provider with no records is
// spending.ErrNotFound.
func (s *Service) ProviderDetail(ctx context.Context, npi string) (*ProviderDetail, error) {
	npi = strings.TrimSpace(npi)
	if npi == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrInvalidArgument)
	}
	summary, err := s.store.Provider(ctx, npi, spending.Range{})
	if err != nil {
		return nil, fmt.Errorf("loading provider %s: %w", npi, err)
	}

	detail := &ProviderDetail{Provider: summary}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trend, err := s.Trends(gctx, spending.TrendFilter{NPI: npi})
		detail.Trend = trend
		return err
	})
	g.Go(func() error {
		codes, err := s.TopCodes(gctx, spending.RankQuery{Limit: detailRankLimit, NPI: npi})
		detail.TopCodes = codes
		return err
	})
	g.Go(func() error {
		recs, err := s.detector.Anomalies(gctx, anomaly.Query{
			NPI: npi, Limit: detailAnomalyLimit, MinZScore: detailAnomalyMinZ,
		})
		if err != nil {
			return fmt.Errorf("finding anomalies: %w", err)
		}
		detail.Anomalies = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading provider %s: %w", npi, err)
	}
	return detail, nil
}

// CodeDetail returns the summary, trend and top providers of one code.
func (s *Service) CodeDetail(ctx context.Context, code string) (*CodeDetail, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidArgument)
	}
	summary, err := s.store.Code(ctx, code, spending.Range{})
	if err != nil {
		return nil, fmt.Errorf("loading code %s: %w", code, err)
	}

	detail := &CodeDetail{Code: summary}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trend, err := s.Trends(gctx, spending.TrendFilter{Code: code})
		detail.Trend = trend
		return err
	})
	g.Go(func() error {
		providers, err := s.TopProviders(gctx, spending.RankQuery{Limit: detailRankLimit, Code: code})
		detail.TopProviders = providers
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading code %s: %w", code, err)
	}
	return detail, nil
}

// Anomalies returns flagged provider/code pairs. A threshold below the
// configured floor is rejected.
func (s *Service) Anomalies(ctx context.Context, q anomaly.Query) ([]anomaly.Record, error) {
	floor := s.detector.Config().MinZFloor
	if q.MinZScore != 0 && q.MinZScore < floor {
		return nil, fmt.Errorf("%w: min_z_score must be at least %g", ErrInvalidArgument, floor)
	}
	q.Code = strings.ToUpper(strings.TrimSpace(q.Code))
	recs, err := s.detector.Anomalies(ctx, q)
	if errors.Is(err, anomaly.ErrInvalidQuery) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err != nil {
		return nil, fmt.Errorf("finding anomalies: %w", err)
	}
	return recs, nil
}

// Ping checks store connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
