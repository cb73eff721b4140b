package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/txn2/medicaid-explorer/pkg/spending"
)

const (
	defaultBatchSize = 10000
	loaderMaxConns   = 4
	progressEvery    = 500000
)

var (
	claimColumns    = []string{"billing_npi", "servicing_npi", "hcpcs_code", "claim_month", "beneficiaries", "total_claims", "total_paid"}
	providerColumns = []string{"npi", "name", "specialty", "city", "state"}
	codeColumns     = []string{"code", "description"}
)

// copier is satisfied by pgx.Tx and *pgxpool.Pool.
type copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Config configures a Loader.
type Config struct {
	// BatchSize is the number of rows sent per COPY.
	BatchSize int
	// Truncate empties the claims table before loading.
	Truncate bool
}

// Stats reports one completed load.
type Stats struct {
	Table    string
	Rows     int64
	Duration time.Duration
}

// Loader bulk loads extracts with COPY. Each file loads in one transaction.
type Loader struct {
	pool      *pgxpool.Pool
	batchSize int
	truncate  bool
}

// Connect opens a small pool for loading and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = loaderMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// New creates a loader.
func New(pool *pgxpool.Pool, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Loader{pool: pool, batchSize: cfg.BatchSize, truncate: cfg.Truncate}
}

// Load loads every file in files. Directories load after claims.
func (l *Loader) Load(ctx context.Context, files Files) ([]Stats, error) {
	var all []Stats

	st, err := l.LoadClaims(ctx, files.Claims)
	if err != nil {
		return all, err
	}
	all = append(all, st)

	if files.Providers != "" {
		st, err := l.LoadProviders(ctx, files.Providers)
		if err != nil {
			return all, err
		}
		all = append(all, st)
	}
	if files.Codes != "" {
		st, err := l.LoadCodes(ctx, files.Codes)
		if err != nil {
			return all, err
		}
		all = append(all, st)
	}
	return all, nil
}

// LoadClaims appends the claims in path to the claims table.
func (l *Loader) LoadClaims(ctx context.Context, path string) (Stats, error) {
	start := time.Now()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if l.truncate {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE claims"); err != nil {
			return Stats{}, fmt.Errorf("truncating claims: %w", err)
		}
	}

	b := newBatcher(tx, spending.TableClaims, claimColumns, l.batchSize)
	err = ReadClaimsFile(path, func(c spending.Claim) error {
		return b.add(ctx, claimValues(c))
	})
	if err != nil {
		return Stats{}, err
	}
	if err := b.flush(ctx); err != nil {
		return Stats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Stats{}, fmt.Errorf("committing claims: %w", err)
	}

	st := Stats{Table: spending.TableClaims, Rows: b.copied, Duration: time.Since(start)}
	slog.Info("claims loaded", "path", path, "rows", st.Rows, "duration", st.Duration)
	return st, nil
}

// LoadProviders upserts the provider directory in path.
func (l *Loader) LoadProviders(ctx context.Context, path string) (Stats, error) {
	return l.upsert(ctx, path, spending.TableProviders, "npi", providerColumns, func(f *os.File, add func([]any) error) error {
		return ReadProvidersCSV(f, func(p spending.ProviderInfo) error {
			return add([]any{p.NPI, p.Name, p.Specialty, p.City, p.State})
		})
	})
}

// LoadCodes upserts the procedure code directory in path.
func (l *Loader) LoadCodes(ctx context.Context, path string) (Stats, error) {
	return l.upsert(ctx, path, spending.TableHCPCSCodes, "code", codeColumns, func(f *os.File, add func([]any) error) error {
		return ReadCodesCSV(f, func(c spending.CodeInfo) error {
			return add([]any{c.Code, c.Description})
		})
	})
}

// upsert copies rows into a temporary table and merges them on key. The
// last row for a duplicated key wins.
func (l *Loader) upsert(ctx context.Context, path, table, key string, columns []string,
	read func(*os.File, func([]any) error) error,
) (Stats, error) {
	start := time.Now()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	staging := table + "_load"
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS, load_seq BIGSERIAL) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), pgx.Identifier{table}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return Stats{}, fmt.Errorf("creating staging table: %w", err)
	}

	b := newBatcher(tx, staging, columns, l.batchSize)
	err = readCSVFile(path, func(f *os.File) error {
		return read(f, func(row []any) error { return b.add(ctx, row) })
	})
	if err != nil {
		return Stats{}, err
	}
	if err := b.flush(ctx); err != nil {
		return Stats{}, err
	}

	if _, err := tx.Exec(ctx, mergeSQL(table, staging, key, columns)); err != nil {
		return Stats{}, fmt.Errorf("merging %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Stats{}, fmt.Errorf("committing %s: %w", table, err)
	}

	st := Stats{Table: table, Rows: b.copied, Duration: time.Since(start)}
	slog.Info("directory loaded", "table", table, "path", path, "rows", st.Rows, "duration", st.Duration)
	return st, nil
}

func mergeSQL(table, staging, key string, columns []string) string {
	set := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != key {
			set = append(set, c+" = EXCLUDED."+c)
		}
	}
	cols := strings.Join(columns, ", ")
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s, load_seq DESC ON CONFLICT (%s) DO UPDATE SET %s",
		table, cols, key, cols, staging, key, key, strings.Join(set, ", "))
}

func claimValues(c spending.Claim) []any {
	return []any{
		c.BillingNPI,
		c.ServicingNPI,
		c.Code,
		c.Month.Time(),
		c.Beneficiaries,
		c.TotalClaims,
		pgtype.Numeric{Int: c.TotalPaid.Coefficient(), Exp: c.TotalPaid.Exponent(), Valid: true},
	}
}

// batcher buffers rows and sends them with one COPY per batch.
type batcher struct {
	dst     copier
	table   pgx.Identifier
	columns []string
	size    int
	rows    [][]any
	copied  int64
	logged  int64
}

func newBatcher(dst copier, table string, columns []string, size int) *batcher {
	return &batcher{
		dst:     dst,
		table:   pgx.Identifier{table},
		columns: columns,
		size:    size,
		rows:    make([][]any, 0, size),
	}
}

func (b *batcher) add(ctx context.Context, row []any) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	n, err := b.dst.CopyFrom(ctx, b.table, b.columns, pgx.CopyFromRows(b.rows))
	if err != nil {
		return fmt.Errorf("copying into %s: %w", b.table.Sanitize(), err)
	}
	b.copied += n
	b.rows = b.rows[:0]

	if b.copied-b.logged >= progressEvery {
		slog.Info("load progress", "table", b.table.Sanitize(), "rows", b.copied)
		b.logged = b.copied
	}
	return nil
}
