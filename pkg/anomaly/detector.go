// Package anomaly flags provider/code pairs whose paid totals sit far from
// the other providers billing the same code.
package anomaly

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/txn2/medicaid-explorer/pkg/cache"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

// ErrInvalidQuery is returned for out-of-range limits or thresholds.
var ErrInvalidQuery = errors.New("invalid anomaly query")

const (
	defaultLimit    = 50
	defaultMaxLimit = 200
	defaultMinZ     = 5.0
	defaultMinZFlr  = 2.0
	defaultCacheTTL = 10 * time.Minute
)

// Record is one flagged provider/code pair.
type Record struct {
	NPI                string         `json:"billing_npi"`
	ProviderName       string         `json:"provider_name"`
	Code               string         `json:"hcpcs_code"`
	TotalPaid          spending.Money `json:"total_paid"`
	TotalClaims        int64          `json:"total_claims"`
	TotalBeneficiaries int64          `json:"total_beneficiaries"`
	CodeAvgPaid        spending.Money `json:"code_avg_paid"`
	CodeStdPaid        float64        `json:"code_std_paid"`
	CodeAvgClaims      float64        `json:"code_avg_claims"`
	CodeStdClaims      float64        `json:"code_std_claims"`
	ProviderCount      int            `json:"provider_count"`
	ZScorePaid         float64        `json:"z_score_paid"`
	ZScoreClaims       float64        `json:"z_score_claims"`
}

// Query selects anomalies. Zero Limit and MinZScore take the configured
// defaults.
type Query struct {
	Limit     int
	MinZScore float64
	// Code restricts the computation to one code's population.
	Code string
	// NPI keeps only that provider's pairs; populations stay complete.
	NPI string
}

// Config configures a Detector.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	DefaultMinZ  float64
	// MinZFloor is the lowest threshold accepted from API callers.
	MinZFloor float64
	// MinPopulation skips codes billed by fewer providers.
	MinPopulation int
	CacheTTL      time.Duration
	// OnScan, if set, is called once per uncached computation.
	OnScan func()
}

func (c *Config) applyDefaults() {
	if c.DefaultLimit == 0 {
		c.DefaultLimit = defaultLimit
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = defaultMaxLimit
	}
	if c.DefaultMinZ == 0 {
		c.DefaultMinZ = defaultMinZ
	}
	if c.MinZFloor == 0 {
		c.MinZFloor = defaultMinZFlr
	}
	if c.MinPopulation == 0 {
		c.MinPopulation = 1
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
}

// Detector computes z-score anomalies from the claims store.
type Detector struct {
	reader spending.Reader
	cfg    Config
	cache  *cache.TTL[[]Record]
}

// NewDetector creates a detector with a per-query result cache.
func NewDetector(reader spending.Reader, cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		reader: reader,
		cfg:    cfg,
		cache:  cache.New[[]Record](cache.Config{TTL: cfg.CacheTTL}),
	}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Normalize fills defaults and validates the query.
func (d *Detector) Normalize(q Query) (Query, error) {
	if q.Limit == 0 {
		q.Limit = d.cfg.DefaultLimit
	}
	if q.MinZScore == 0 {
		q.MinZScore = d.cfg.DefaultMinZ
	}
	if q.Limit < 1 || q.Limit > d.cfg.MaxLimit {
		return q, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, d.cfg.MaxLimit)
	}
	if q.MinZScore < 0 || math.IsNaN(q.MinZScore) || math.IsInf(q.MinZScore, 0) {
		return q, fmt.Errorf("%w: min_z_score must be a non-negative number", ErrInvalidQuery)
	}
	return q, nil
}

// Anomalies returns pairs with |z_score_paid| >= MinZScore, sorted by
// |z_score_paid| descending, at most Limit of them.
func (d *Detector) Anomalies(ctx context.Context, q Query) ([]Record, error) {
	q, err := d.Normalize(q)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%d|%g", q.Code, q.NPI, q.Limit, q.MinZScore)
	return d.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]Record, error) {
		return d.detect(ctx, q)
	})
}

// detect runs one streaming pass grouped by code.
func (d *Detector) detect(ctx context.Context, q Query) ([]Record, error) {
	start := time.Now()
	top := newTopK(q.Limit)
	if d.cfg.OnScan != nil {
		d.cfg.OnScan()
	}

	var (
		group   []spending.PairTotal
		codes   int
		scanned int
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		codes++
		scoreGroup(group, q, d.cfg.MinPopulation, top)
		group = group[:0]
	}

	err := d.reader.StreamPairTotals(ctx, spending.PairFilter{Code: q.Code, NPI: q.NPI}, func(p spending.PairTotal) error {
		if len(group) > 0 && group[0].Code != p.Code {
			flush()
		}
		group = append(group, p)
		scanned++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("streaming pair totals: %w", err)
	}
	flush()

	records := top.sorted()
	if err := d.attachNames(ctx, records); err != nil {
		return nil, err
	}

	slog.Debug("anomaly detection complete",
		"code", q.Code,
		"npi", q.NPI,
		"codes", codes,
		"pairs", scanned,
		"flagged", len(records),
		"duration", time.Since(start))
	return records, nil
}

// scoreGroup assigns z-scores for one code population and offers qualifying
// pairs to top.
func scoreGroup(group []spending.PairTotal, q Query, minPopulation int, top *topK) {
	if len(group) < minPopulation {
		return
	}
	st := summarize(group)
	meanPaid := st.meanPaid.InexactFloat64()
	avgPaid := spending.NewMoney(st.meanPaid.Round(2))

	for _, p := range group {
		if q.NPI != "" && p.NPI != q.NPI {
			continue
		}
		zPaid := zScore(p.TotalPaid.InexactFloat64(), meanPaid, st.stdPaid)
		if math.Abs(zPaid) < q.MinZScore {
			continue
		}
		top.offer(Record{
			NPI:                p.NPI,
			Code:               p.Code,
			TotalPaid:          p.TotalPaid,
			TotalClaims:        p.TotalClaims,
			TotalBeneficiaries: p.TotalBeneficiaries,
			CodeAvgPaid:        avgPaid,
			CodeStdPaid:        round(st.stdPaid, 2),
			CodeAvgClaims:      round(st.meanClaims, 2),
			CodeStdClaims:      round(st.stdClaims, 2),
			ProviderCount:      st.n,
			ZScorePaid:         zPaid,
			ZScoreClaims:       zScore(float64(p.TotalClaims), st.meanClaims, st.stdClaims),
		})
	}
}

func (d *Detector) attachNames(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(records))
	npis := make([]string, 0, len(records))
	for _, r := range records {
		if !seen[r.NPI] {
			seen[r.NPI] = true
			npis = append(npis, r.NPI)
		}
	}
	names, err := d.reader.ProviderNames(ctx, npis)
	if err != nil {
		return fmt.Errorf("resolving provider names: %w", err)
	}
	for i := range records {
		records[i].ProviderName = names[records[i].NPI]
	}
	return nil
}

func round(v float64, places int) float64 {
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64() // #nosec G115 -- places is a small constant
}

// ranksBefore orders records by |z_score_paid| descending, then NPI and code
// ascending.
func ranksBefore(a, b Record) bool {
	za, zb := math.Abs(a.ZScorePaid), math.Abs(b.ZScorePaid)
	if za != zb {
		return za > zb
	}
	if a.NPI != b.NPI {
		return a.NPI < b.NPI
	}
	return a.Code < b.Code
}

// topK keeps the best k records seen. The heap root is the worst kept record.
type topK struct {
	k    int
	recs []Record
}

func newTopK(k int) *topK {
	return &topK{k: k}
}

func (t *topK) Len() int           { return len(t.recs) }
func (t *topK) Less(i, j int) bool { return ranksBefore(t.recs[j], t.recs[i]) }
func (t *topK) Swap(i, j int)      { t.recs[i], t.recs[j] = t.recs[j], t.recs[i] }
func (t *topK) Push(x any)         { t.recs = append(t.recs, x.(Record)) }
func (t *topK) Pop() any {
	last := t.recs[len(t.recs)-1]
	t.recs = t.recs[:len(t.recs)-1]
	return last
}

func (t *topK) offer(r Record) {
	if t.Len() < t.k {
		heap.Push(t, r)
		return
	}
	if ranksBefore(r, t.recs[0]) {
		t.recs[0] = r
		heap.Fix(t, 0)
	}
}

// sorted drains the heap into best-first order.
func (t *topK) sorted() []Record {
	out := make([]Record, t.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(Record)
	}
	return out
}
