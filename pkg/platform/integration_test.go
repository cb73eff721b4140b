//go:build integration

package platform_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/txn2/medicaid-explorer/pkg/chat"
	"github.com/txn2/medicaid-explorer/pkg/database/migrate"
	"github.com/txn2/medicaid-explorer/pkg/llm"
	"github.com/txn2/medicaid-explorer/pkg/loader"
	"github.com/txn2/medicaid-explorer/pkg/platform"
	"github.com/txn2/medicaid-explorer/pkg/spending"
)

const integrationClaims = `BILLING_PROVIDER_NPI_NUM,SERVICING_PROVIDER_NPI_NUM,HCPCS_CODE,CLAIM_FROM_MONTH,TOTAL_UNIQUE_BENEFICIARIES,TOTAL_CLAIMS,TOTAL_PAID
1000000001,,97153,2023-01,3,12,1200.00
1000000001,,97153,2023-02,3,10,1000.00
1000000002,,97153,2023-01,2,4,300.25
1000000002,,T1019,2023-02,1,2,80.75
`

const integrationProviders = `npi,name,specialty,city,state
1000000001,Bright Path ABA,Behavior Analyst,Columbus,oh
1000000002,Home Care Partners,Home Health,Dayton,OH
`

type sqlCompleter struct{ sql string }

func (c sqlCompleter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Text:  `{"thinking": "sum by provider", "sql": "` + c.sql + `", "visualization": "table", "narrative": "Paid by provider."}`,
		Model: "stub",
	}, nil
}

// startPostgres starts a PostgreSQL container and returns a migrated database.
func startPostgres(t *testing.T) (db *sql.DB, dsn string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("medicaid"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err = sql.Open("postgres", dsn)
	require.NoError(t, err, "failed to open database")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Run(db), "failed to run migrations")
	return db, dsn
}

func loadFixtures(t *testing.T, dsn string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	files := loader.Files{
		Claims:    filepath.Join(dir, "claims.csv"),
		Providers: filepath.Join(dir, "providers.csv"),
	}
	require.NoError(t, os.WriteFile(files.Claims, []byte(integrationClaims), 0o600))
	require.NoError(t, os.WriteFile(files.Providers, []byte(integrationProviders), 0o600))

	pool, err := loader.Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = loader.New(pool, loader.Config{Truncate: true}).Load(ctx, files)
	require.NoError(t, err)
}

func TestPlatform_PostgresEndToEnd(t *testing.T) {
	db, dsn := startPostgres(t)
	loadFixtures(t, dsn)
	ctx := context.Background()

	cfg := platform.DefaultConfig()
	cfg.Database.DSN = dsn
	p, err := platform.New(
		platform.WithConfig(cfg),
		platform.WithDB(db),
		platform.WithCompleter(sqlCompleter{
			sql: "SELECT billing_npi, SUM(total_paid) AS paid FROM claims GROUP BY billing_npi ORDER BY paid DESC",
		}),
	)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Health().IsReady())

	t.Run("overview", func(t *testing.T) {
		o, err := p.Analytics().Overview(ctx, spending.Range{})
		require.NoError(t, err)
		assert.Equal(t, "2581.00", o.TotalPaid.StringFixed(2))
		assert.Equal(t, int64(2), o.TotalProviders)
	})

	t.Run("provider detail", func(t *testing.T) {
		d, err := p.Analytics().ProviderDetail(ctx, "1000000001")
		require.NoError(t, err)
		assert.Equal(t, "Bright Path ABA", d.Provider.Name)
		assert.Equal(t, "OH", d.Provider.State)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := p.Analytics().ProviderDetail(ctx, "1999999999")
		assert.ErrorIs(t, err, spending.ErrNotFound)
	})

	t.Run("chat", func(t *testing.T) {
		require.NotNil(t, p.Chat())
		resp, err := p.Chat().Ask(ctx, chat.Request{Message: "Who was paid the most?"})
		require.NoError(t, err)
		require.Empty(t, resp.Error)
		assert.Contains(t, resp.SQL, "LIMIT")
		assert.Len(t, resp.Results, 2)
		assert.Equal(t, []string{"billing_npi", "paid"}, resp.Columns)
	})

	t.Run("chat rejects writes", func(t *testing.T) {
		bad, err := platform.New(
			platform.WithConfig(cfg),
			platform.WithDB(db),
			platform.WithCompleter(sqlCompleter{sql: "DELETE FROM claims"}),
		)
		require.NoError(t, err)
		defer func() { _ = bad.Close() }()
		resp, err := bad.Chat().Ask(ctx, chat.Request{Message: "Clear the table"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Error)
		assert.Equal(t, chat.VisualizationNone, resp.Visualization)

		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM claims").Scan(&n))
		assert.Equal(t, 4, n)
	})

	require.NoError(t, p.Stop(ctx))
}
